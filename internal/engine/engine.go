// Package engine schedules row tasks over a bounded worker pool and accounts
// for their results.
//
// Process reads a RowStream once, dispatching each row as an independent task.
// Rows complete in any order. When ctx is canceled no further rows are
// dispatched, but tasks already running finish without interruption. Every
// row consumed produces exactly one RowResult, so the totals always add up to
// the number of rows read.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"dataloader/internal/entity"
	"dataloader/internal/journal"
	"dataloader/internal/meta"
	"dataloader/internal/metrics"
	"dataloader/internal/record"
	"dataloader/internal/result"
	"dataloader/internal/task"

	"github.com/google/uuid"
)

// Command selects what each row does.
type Command string

const (
	CommandLoad   Command = "load"
	CommandDelete Command = "delete"
)

// Runner executes one row. *task.Runner satisfies it.
type Runner interface {
	Load(ctx context.Context, et entity.Type, row record.Row) task.Outcome
	Delete(ctx context.Context, et entity.Type, row record.Row) task.Outcome
}

// Completer receives the end-of-run summary. *remote.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, summary map[string]any) error
}

// Options configures an Engine.
type Options struct {
	Job     string
	Command Command
	// Workers bounds concurrent row tasks; DefaultWorkers when <= 0.
	Workers int
	Logger  *log.Logger
	// Sinks receive every completed row.
	Sinks []Sink
	// Journal, when set, records every result. With Resume, rows that already
	// succeeded in an earlier run are skipped.
	Journal journal.Journal
	Resume  bool
	// Completer, when set, is notified once the run has drained.
	Completer Completer
	// MaxErrorsLogged caps the failure messages printed in the summary.
	MaxErrorsLogged int
}

// Engine runs rows of one or more entity types. Each Process call is one run
// over one stream; the engine keeps which entity types have become unusable.
type Engine struct {
	runner Runner
	opts   Options
	runID  string
	logger *log.Logger

	// fatal maps an entity type name to the schema error that disabled it.
	fatal sync.Map
}

// New returns an Engine. The run id is generated here and tags journal rows.
func New(runner Runner, opts Options) *Engine {
	if opts.Command == "" {
		opts.Command = CommandLoad
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxErrorsLogged <= 0 {
		opts.MaxErrorsLogged = 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{runner: runner, opts: opts, runID: uuid.NewString(), logger: logger}
}

// RunID identifies this engine's run.
func (e *Engine) RunID() string { return e.runID }

// run is the per-Process state shared by the workers.
type run struct {
	et      entity.Type
	sinks   []Sink
	totals  result.Totals
	fails   *errAgg
	sinkErr *errAgg

	mu      sync.Mutex
	results []result.RowResult
}

// Process synchronizes every row of rows as entity type et. It returns the
// totals, the per-row results ordered by row number, and an error only when
// the stream failed or ctx was canceled before the input was exhausted.
func (e *Engine) Process(ctx context.Context, et entity.Type, rows RowStream) (result.Snapshot, []result.RowResult, error) {
	start := time.Now()
	r := &run{
		et:      et,
		sinks:   append([]Sink(nil), e.opts.Sinks...),
		fails:   newErrAgg(e.opts.MaxErrorsLogged),
		sinkErr: newErrAgg(e.opts.MaxErrorsLogged),
	}
	if e.opts.Journal != nil {
		r.sinks = append(r.sinks, journal.NewSink(e.opts.Journal, e.runID, e.opts.Job, et.Name, 0))
	}
	// Tasks outlive a canceled run; only dispatch stops.
	taskCtx := context.WithoutCancel(ctx)

	e.logger.Printf("engine: run %s: %s %s with %d workers", e.runID, e.opts.Command, et.Name, e.opts.Workers)
	pool := NewPool(e.opts.Workers)
	var stopErr error
	for {
		if err := ctx.Err(); err != nil {
			stopErr = err
			e.logger.Printf("engine: %v; no further rows dispatched", err)
			break
		}
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var re *record.ReadError
		if errors.As(err, &re) {
			e.finish(r, row, result.Failed(re.Number, re.Source, 0, result.CodeMapping, re.Err.Error()))
			continue
		}
		if err != nil {
			stopErr = fmt.Errorf("engine: read rows: %w", err)
			break
		}
		pool.Go(func() {
			e.finish(r, row, e.handle(taskCtx, et, row))
		})
	}
	pool.Wait()

	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.sinkErr.add(err.Error())
		}
	}

	snap := r.totals.Snapshot()
	elapsed := time.Since(start)
	e.summarize(r, snap, elapsed)
	if e.opts.Completer != nil {
		e.complete(taskCtx, et, snap, elapsed)
	}

	sort.Slice(r.results, func(i, j int) bool { return r.results[i].Row < r.results[j].Row })
	return snap, r.results, stopErr
}

// handle produces the result for one row. It never panics; the task boundary
// recovers.
func (e *Engine) handle(ctx context.Context, et entity.Type, row record.Row) result.RowResult {
	if _, disabled := e.fatal.Load(key(et.Name)); disabled {
		return result.Skipped(row.Number, row.Source, fmt.Sprintf("%s disabled: schema unavailable", et.Name))
	}
	if e.opts.Resume && e.opts.Journal != nil {
		done, err := e.opts.Journal.Succeeded(ctx, row.Source, row.Number, journal.Fingerprint(row))
		if err != nil {
			e.logger.Printf("engine: row %d: resume lookup failed, processing row: %v", row.Number, err)
		} else if done {
			return result.Skipped(row.Number, row.Source, "already processed in an earlier run")
		}
	}

	var out task.Outcome
	if e.opts.Command == CommandDelete {
		out = e.runner.Delete(ctx, et, row)
	} else {
		out = e.runner.Load(ctx, et, row)
	}

	// A schema failure disables the entity type. The first row to hit it
	// reports the failure; the rest are skipped.
	if meta.IsSchemaError(out.Err) {
		if _, loaded := e.fatal.LoadOrStore(key(et.Name), out.Err); loaded {
			return result.Skipped(row.Number, row.Source, fmt.Sprintf("%s disabled: schema unavailable", et.Name))
		}
		e.logger.Printf("engine: %s: %v; remaining rows will be skipped", et.Name, out.Err)
	}
	return out.Result
}

func (e *Engine) finish(r *run, row record.Row, res result.RowResult) {
	r.totals.Add(res.Action)
	metrics.RecordRow(e.opts.Job, res.Action.String())
	if res.Action == result.Failure {
		r.fails.add(res.String())
	}
	for _, s := range r.sinks {
		if err := s.Emit(row, res); err != nil {
			r.sinkErr.add(err.Error())
		}
	}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (e *Engine) summarize(r *run, snap result.Snapshot, elapsed time.Duration) {
	e.logger.Printf("engine: run %s: %s %s done in %s: %s",
		e.runID, e.opts.Command, r.et.Name, elapsed.Round(time.Millisecond), snap)
	if r.fails.count > 0 {
		e.logger.Printf("row failures: %d (showing first %d)", r.fails.count, len(r.fails.first))
		for i, s := range r.fails.first {
			e.logger.Printf("  #%03d: %s", i+1, s)
		}
	}
	if r.sinkErr.count > 0 {
		e.logger.Printf("result sink errors: %d (showing first %d)", r.sinkErr.count, len(r.sinkErr.first))
		for i, s := range r.sinkErr.first {
			e.logger.Printf("  #%03d: %s", i+1, s)
		}
	}
}

func (e *Engine) complete(ctx context.Context, et entity.Type, snap result.Snapshot, elapsed time.Duration) {
	summary := map[string]any{
		"runId":      e.runID,
		"entity":     et.Name,
		"command":    string(e.opts.Command),
		"totals":     snap.Map(),
		"durationMs": elapsed.Milliseconds(),
	}
	if err := e.opts.Completer.Complete(ctx, summary); err != nil {
		e.logger.Printf("engine: %v", err)
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// errAgg keeps the first limit messages and counts all of them.
type errAgg struct {
	mu    sync.Mutex
	limit int
	count int
	first []string
}

func newErrAgg(limit int) *errAgg {
	return &errAgg{limit: limit}
}

func (a *errAgg) add(msg string) {
	a.mu.Lock()
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}
