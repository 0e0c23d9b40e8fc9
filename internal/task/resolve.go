package task

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dataloader/internal/entity"
	"dataloader/internal/lookup"
	"dataloader/internal/meta"
	"dataloader/internal/record"
	"dataloader/internal/remote"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var fold = cases.Fold()

// matchKey compares a cell value with a returned field value. Case matters.
func matchKey(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }

// existing resolves the row's exist fields to at most one entity id. The
// returned key is nil when the entity type has no exist fields, in which
// case every row creates.
func (r *Runner) existing(ctx context.Context, rec *record.Record) (int64, *lookup.Key, error) {
	fields := rec.ExistFields()
	if len(fields) == 0 {
		return 0, nil, nil
	}

	terms := make([]lookup.Term, 0, len(fields))
	crit := make(remote.Criteria, 0, len(fields))
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		v := strings.TrimSpace(f.Value)
		if v == "" {
			return 0, nil, &record.MappingError{Row: rec.Row.Number, Source: rec.Row.Source, Entity: rec.Entity.Name,
				Column: f.Column, Reason: "exist field has no value"}
		}
		terms = append(terms, lookup.Term{Field: f.Path(), Value: v})
		crit = append(crit, remote.Criterion{Field: f.Path(), Values: []string{v}, DataType: f.Meta.DataType})
		paths = append(paths, f.Path())
	}

	returns := remote.ReturnFields(paths)
	k := lookup.NewKey(rec.Entity.Name, returns, terms, "", r.cfg.Wildcard)
	es, err := r.loader.Load(ctx, k, func(ctx context.Context) ([]entity.Entity, error) {
		return r.remote.Find(ctx, rec.Entity, crit, returns, r.cfg.Wildcard)
	})
	if err != nil {
		return 0, nil, err
	}
	switch len(es) {
	case 0:
		return 0, &k, nil
	case 1:
		return es[0].ID, &k, nil
	default:
		return 0, nil, &AmbiguousMatchError{Entity: rec.Entity.Name, Count: len(es), Criteria: crit.String()}
	}
}

// writeFields sets direct, compound and to-one values on e. Empty cells are
// not sent.
func (r *Runner) writeFields(ctx context.Context, rec *record.Record, e *entity.Entity) error {
	for _, f := range rec.DirectFields() {
		if f.Empty() {
			continue
		}
		v, err := meta.Convert(f.Meta.DataType, f.Value, r.cfg.DateLayout)
		if err != nil {
			return mappingErr(rec, f, err.Error())
		}
		a, ok := rec.Schema.Accessor(f.Path())
		if !ok {
			return mappingErr(rec, f, "no accessor for "+f.Path())
		}
		a.Set(e, v)
	}

	for _, group := range byBase(rec.ToOneFields()) {
		id, ok, err := r.toOne(ctx, rec, group)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		a, found := rec.Schema.Accessor(group[0].Path())
		if !found {
			return mappingErr(rec, group[0], "no accessor for "+group[0].Path())
		}
		a.Set(e, id)
	}
	return nil
}

// toOne resolves the target of one to-one association from the row's
// sub-field cells. ok is false when every cell is empty.
func (r *Runner) toOne(ctx context.Context, rec *record.Record, group []record.Field) (int64, bool, error) {
	var (
		terms []lookup.Term
		crit  remote.Criteria
		subs  []string
	)
	for _, f := range group {
		if f.Empty() {
			continue
		}
		v := strings.TrimSpace(f.Value)
		if f.TargetField() == "id" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, false, mappingErr(rec, f, fmt.Sprintf("invalid id %q", f.Value))
			}
			return id, true, nil
		}
		terms = append(terms, lookup.Term{Field: f.TargetField(), Value: v})
		crit = append(crit, remote.Criterion{Field: f.TargetField(), Values: []string{v}, DataType: f.Meta.DataType})
		subs = append(subs, f.TargetField())
	}
	if len(terms) == 0 {
		return 0, false, nil
	}

	target := r.target(group[0].Meta.Target)
	returns := remote.ReturnFields(subs)
	k := lookup.NewKey(target.Name, returns, terms, "", r.cfg.Wildcard)
	es, err := r.loader.Load(ctx, k, func(ctx context.Context) ([]entity.Entity, error) {
		return r.remote.Find(ctx, target, crit, returns, r.cfg.Wildcard)
	})
	if err != nil {
		return 0, false, err
	}
	switch len(es) {
	case 0:
		return 0, false, fmt.Errorf("%s: %s with %s: %w", group[0].Meta.Base, target.Name, crit.String(), ErrNotFound)
	case 1:
		return es[0].ID, true, nil
	default:
		return 0, false, &AmbiguousMatchError{Entity: target.Name, Count: len(es), Criteria: crit.String()}
	}
}

// reconcile brings every to-many relation on the row in line with its cell.
func (r *Runner) reconcile(ctx context.Context, rec *record.Record, id int64) error {
	for _, group := range byBase(rec.ToManyFields(r.cfg.ProcessEmpty)) {
		relation := group[0].Meta.Base
		var desired []int64
		for _, f := range group {
			ids, err := r.toMany(ctx, rec, f)
			if err != nil {
				return err
			}
			desired = append(desired, ids...)
		}
		if _, err := r.reconciler.Sync(ctx, rec.Entity.Name, id, relation, desired); err != nil {
			return fmt.Errorf("%s: %w", relation, err)
		}
	}
	return nil
}

// toMany resolves a to-many cell to target ids. Values naming no target fail
// the row with *MissingAssociationError.
func (r *Runner) toMany(ctx context.Context, rec *record.Record, f record.Field) ([]int64, error) {
	values := f.Values(r.cfg.Delimiter)
	if len(values) == 0 {
		return nil, nil
	}
	if f.TargetField() == "id" {
		ids := make([]int64, 0, len(values))
		for _, v := range values {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, mappingErr(rec, f, fmt.Sprintf("invalid id %q", v))
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	target := r.target(f.Meta.Target)
	sub := f.TargetField()
	returns := remote.ReturnFields([]string{sub})
	k := lookup.NewKey(target.Name, returns, []lookup.Term{{Field: sub, Value: f.Value}}, r.cfg.Delimiter, r.cfg.Wildcard)
	es, err := r.loader.Load(ctx, k, func(ctx context.Context) ([]entity.Entity, error) {
		crit := remote.Criteria{{Field: sub, Values: values, DataType: f.Meta.DataType}}
		return r.remote.Find(ctx, target, crit, returns, r.cfg.Wildcard)
	})
	if err != nil {
		return nil, err
	}
	if r.cfg.Wildcard {
		return entity.IDs(es), nil
	}

	path := strings.Split(sub, ".")
	byValue := make(map[string][]int64, len(es))
	for i := range es {
		mk := matchKey(es[i].String(path...))
		byValue[mk] = append(byValue[mk], es[i].ID)
	}
	var (
		ids     []int64
		missing []string
	)
	for _, v := range values {
		found, ok := byValue[matchKey(v)]
		if !ok {
			missing = append(missing, v)
			continue
		}
		ids = append(ids, found...)
	}
	if len(missing) > 0 {
		return nil, &MissingAssociationError{Relation: f.Meta.Base, Target: target.Name, Field: sub, Missing: missing}
	}
	return ids, nil
}

// target returns the registered type for an association target.
func (r *Runner) target(name string) entity.Type {
	if t, ok := r.registry.Lookup(name); ok {
		return t
	}
	return entity.Type{Name: name, Style: entity.StyleSearch}
}

// byBase groups fields by association base, keeping first-seen order.
func byBase(fields []record.Field) [][]record.Field {
	var (
		order  []string
		groups = map[string][]record.Field{}
	)
	for _, f := range fields {
		b := fold.String(f.Meta.Base)
		if _, ok := groups[b]; !ok {
			order = append(order, b)
		}
		groups[b] = append(groups[b], f)
	}
	out := make([][]record.Field, 0, len(order))
	for _, b := range order {
		out = append(out, groups[b])
	}
	return out
}

func mappingErr(rec *record.Record, f record.Field, reason string) error {
	return &record.MappingError{Row: rec.Row.Number, Source: rec.Row.Source, Entity: rec.Entity.Name, Column: f.Column, Reason: reason}
}
