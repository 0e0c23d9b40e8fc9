// Package task runs one input row against the remote service.
//
// A load task maps the row to a record, resolves the existing entity through
// the lookup cache, writes direct, compound and to-one fields with a single
// insert or update, then reconciles each to-many relation. A delete task
// resolves the row's id and removes the entity. Every task ends in exactly one
// RowResult; failures never escape the task.
package task

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"

	"dataloader/internal/assoc"
	"dataloader/internal/entity"
	"dataloader/internal/lookup"
	"dataloader/internal/record"
	"dataloader/internal/remote"
	"dataloader/internal/result"
)

// Remote is the subset of the remote client a task uses. *remote.Client
// satisfies it.
type Remote interface {
	Find(ctx context.Context, et entity.Type, crit remote.Criteria, fields []string, wildcard bool) ([]entity.Entity, error)
	Insert(ctx context.Context, e *entity.Entity) (int64, error)
	Update(ctx context.Context, e *entity.Entity) (int64, error)
	Delete(ctx context.Context, entityType string, id int64) error
}

// Config holds the per-run knobs a task reads.
type Config struct {
	// Delimiter splits to-many cells.
	Delimiter string
	// ProcessEmpty makes an empty to-many cell clear the relation.
	ProcessEmpty bool
	// Wildcard sends lookup values unquoted so the remote can expand them.
	Wildcard bool
	// DateLayout parses date cells.
	DateLayout string
}

// Runner executes row tasks. It is shared by all workers of a run.
type Runner struct {
	cfg        Config
	mapper     *record.Mapper
	remote     Remote
	loader     *lookup.Loader
	reconciler *assoc.Reconciler
	registry   *entity.Registry
	countries  *record.CountryPreloader
	logger     *log.Logger

	// creating serializes resolve-then-insert per exist key.
	creating keyLocks
}

// Option customizes a Runner.
type Option func(*Runner)

// WithCountries converts countryName cells before mapping.
func WithCountries(p *record.CountryPreloader) Option {
	return func(r *Runner) { r.countries = p }
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner wires a Runner. registry resolves association targets to their
// entity types; unknown targets are searched with the full-text style.
func NewRunner(cfg Config, mapper *record.Mapper, rem Remote, loader *lookup.Loader, rec *assoc.Reconciler, registry *entity.Registry, opts ...Option) *Runner {
	if cfg.Delimiter == "" {
		cfg.Delimiter = ";"
	}
	if registry == nil {
		registry = entity.DefaultRegistry()
	}
	r := &Runner{
		cfg:        cfg,
		mapper:     mapper,
		remote:     rem,
		loader:     loader,
		reconciler: rec,
		registry:   registry,
		logger:     log.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Outcome is a finished task: its result, the error behind a FAILURE, and
// the states it passed through.
type Outcome struct {
	Result result.RowResult
	Err    error
	Trace  []State
}

// Load inserts or updates the entity described by row.
func (r *Runner) Load(ctx context.Context, et entity.Type, row record.Row) Outcome {
	return r.run(row, func(m *machine) (result.RowResult, int64, error) {
		return r.load(ctx, m, et, row)
	})
}

// Delete removes the entity whose id row carries.
func (r *Runner) Delete(ctx context.Context, et entity.Type, row record.Row) Outcome {
	return r.run(row, func(m *machine) (result.RowResult, int64, error) {
		return r.remove(ctx, m, et, row)
	})
}

// run is the task boundary: it converts errors and panics into a FAILURE
// result and always ends in StateReported.
func (r *Runner) run(row record.Row, body func(*machine) (result.RowResult, int64, error)) (out Outcome) {
	m := newMachine()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("task: row %d: panic: %v\n%s", row.Number, p, debug.Stack())
			out.Err = fmt.Errorf("panic: %v", p)
			out.Result = result.Failed(row.Number, row.Source, 0, result.CodeInternal, out.Err.Error())
		}
		m.report()
		out.Trace = m.trace
	}()

	res, rid, err := body(m)
	if err != nil {
		return Outcome{Result: result.Failed(row.Number, row.Source, rid, Code(err), err.Error()), Err: err}
	}
	return Outcome{Result: res}
}

func (r *Runner) load(ctx context.Context, m *machine, et entity.Type, row record.Row) (result.RowResult, int64, error) {
	if r.countries != nil {
		converted, err := r.countries.Convert(ctx, row)
		if err != nil {
			return result.RowResult{}, 0, err
		}
		row = converted
	}
	rec, err := r.mapper.Build(ctx, et, row)
	if err != nil {
		return result.RowResult{}, 0, err
	}
	if err := m.to(StateMapped); err != nil {
		return result.RowResult{}, 0, err
	}

	release := r.creating.lock(existLockKey(rec))
	defer release()
	existing, existKey, err := r.existing(ctx, rec)
	if err != nil {
		return result.RowResult{}, 0, err
	}
	if existing != 0 {
		release()
	}

	e := entity.New(et.Name)
	var action result.Action
	if existing == 0 {
		if err := m.to(StateNotFound); err != nil {
			return result.RowResult{}, 0, err
		}
		if !et.Creatable() {
			return result.RowResult{}, 0, fmt.Errorf("%s cannot be created: %w", et.Name, ErrUnsupported)
		}
		if err := r.writeFields(ctx, rec, e); err != nil {
			return result.RowResult{}, 0, err
		}
		id, err := r.remote.Insert(ctx, e)
		if err != nil {
			return result.RowResult{}, 0, err
		}
		existing, action = id, result.Insert
		if existKey != nil {
			r.loader.Cache().Put(*existKey, []entity.Entity{created(et.Name, id, rec)})
		}
		release()
		if err := m.to(StateCreated); err != nil {
			return result.RowResult{}, id, err
		}
	} else {
		if err := m.to(StateFound); err != nil {
			return result.RowResult{}, existing, err
		}
		if !et.Updatable() {
			return result.RowResult{}, existing, fmt.Errorf("%s cannot be updated: %w", et.Name, ErrUnsupported)
		}
		if err := r.writeFields(ctx, rec, e); err != nil {
			return result.RowResult{}, existing, err
		}
		e.ID = existing
		if _, err := r.remote.Update(ctx, e); err != nil {
			return result.RowResult{}, existing, err
		}
		action = result.Update
		if err := m.to(StateUpdated); err != nil {
			return result.RowResult{}, existing, err
		}
	}

	if err := r.reconcile(ctx, rec, existing); err != nil {
		return result.RowResult{}, existing, err
	}
	if err := m.to(StateReconciled); err != nil {
		return result.RowResult{}, existing, err
	}

	if action == result.Insert {
		return result.Inserted(row.Number, row.Source, existing), existing, nil
	}
	return result.Updated(row.Number, row.Source, existing), existing, nil
}

// created is the cache entry for an entity this run inserted, carrying the
// exist-field values so later identical rows resolve to it.
func created(entityType string, id int64, rec *record.Record) entity.Entity {
	e := entity.Entity{Type: entityType, ID: id, Fields: map[string]any{"id": id}}
	for _, f := range rec.ExistFields() {
		if a, ok := rec.Schema.Accessor(f.Path()); ok {
			a.Set(&e, f.Value)
		}
	}
	return e
}
