package task

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dataloader/internal/entity"
	"dataloader/internal/lookup"
	"dataloader/internal/record"
	"dataloader/internal/remote"
	"dataloader/internal/result"
)

// remove deletes the entity named by the row's id column: a DELETE call for
// hard-deletable types, an isDeleted update for soft-deletable ones.
func (r *Runner) remove(ctx context.Context, m *machine, et entity.Type, row record.Row) (result.RowResult, int64, error) {
	raw, _ := row.Value("id")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return result.RowResult{}, 0, &record.MappingError{Row: row.Number, Source: row.Source, Entity: et.Name, Column: "id",
			Reason: "delete rows need a non-empty id column"}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return result.RowResult{}, 0, &record.MappingError{Row: row.Number, Source: row.Source, Entity: et.Name, Column: "id",
			Reason: fmt.Sprintf("invalid id %q", raw)}
	}
	if err := m.to(StateMapped); err != nil {
		return result.RowResult{}, 0, err
	}
	if !et.Deletable() {
		return result.RowResult{}, 0, fmt.Errorf("%s cannot be deleted: %w", et.Name, ErrUnsupported)
	}

	crit := remote.Criteria{{Field: "id", Values: []string{raw}, DataType: "Integer"}}
	k := lookup.NewKey(et.Name, []string{"id"}, []lookup.Term{{Field: "id", Value: raw}}, "", false)
	es, err := r.loader.Load(ctx, k, func(ctx context.Context) ([]entity.Entity, error) {
		return r.remote.Find(ctx, et, crit, []string{"id"}, false)
	})
	if err != nil {
		return result.RowResult{}, 0, err
	}
	if len(es) == 0 {
		return result.RowResult{}, 0, fmt.Errorf("%s %d: %w", et.Name, id, ErrNotFound)
	}
	if err := m.to(StateFound); err != nil {
		return result.RowResult{}, id, err
	}

	if et.HardDeletable() {
		err = r.remote.Delete(ctx, et.Name, id)
	} else {
		e := entity.New(et.Name)
		e.ID = id
		e.Set(true, "isDeleted")
		_, err = r.remote.Update(ctx, e)
	}
	if err != nil {
		return result.RowResult{}, id, err
	}
	if err := m.to(StateDeleted); err != nil {
		return result.RowResult{}, id, err
	}
	return result.Deleted(row.Number, row.Source, id), id, nil
}
