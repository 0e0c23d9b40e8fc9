package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"dataloader/internal/entity"
	"dataloader/internal/meta"
	"dataloader/internal/metrics"
)

// Defaults for Options.
const (
	DefaultPageSize   = 500
	DefaultMaxRecords = 20000
	DefaultChunkSize  = 500
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	// PageSize is the number of records requested per read call.
	PageSize int
	// MaxRecords caps the records accumulated by one paginated read.
	MaxRecords int
	// ChunkSize caps the ids sent in one associate/disassociate call.
	ChunkSize int
	// Job labels the call metrics.
	Job    string
	Logger *log.Logger
}

// Client is the paginated, chunking access layer over a Transport. It is
// safe for concurrent use; one Client is shared by every task of a run.
type Client struct {
	t          Transport
	pageSize   int
	maxRecords int
	chunkSize  int
	job        string
	logger     *log.Logger

	// fastPathDenied is set once the remote refuses the external-id lookup.
	fastPathDenied atomic.Bool

	calls atomic.Int64
}

// NewClient returns a Client over t.
func NewClient(t Transport, opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Client{
		t:          t,
		pageSize:   opts.PageSize,
		maxRecords: opts.MaxRecords,
		chunkSize:  opts.ChunkSize,
		job:        opts.Job,
		logger:     opts.Logger,
	}
}

// Calls returns how many remote calls the client has issued.
func (c *Client) Calls() int64 { return c.calls.Load() }

// FastPathDenied reports whether the external-id fast path has been disabled
// for the rest of the run.
func (c *Client) FastPathDenied() bool { return c.fastPathDenied.Load() }

// call issues one request and normalizes every failure into *CallError.
func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	c.calls.Add(1)
	start := time.Now()
	resp, err := c.t.Call(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		var ce *CallError
		if !errors.As(err, &ce) {
			err = &CallError{Op: req.Op, Entity: req.Entity, Err: err}
		}
	}
	metrics.RecordCall(c.job, string(req.Op), err, time.Since(start))
	return resp, err
}

// Meta fetches the metadata tree of entityType.
func (c *Client) Meta(ctx context.Context, entityType string) (meta.RawEntity, error) {
	resp, err := c.call(ctx, Request{Op: OpMeta, Entity: entityType, Fields: []string{"*"}})
	if err != nil {
		return meta.RawEntity{}, err
	}
	if resp.Meta == nil {
		return meta.RawEntity{}, &CallError{Op: OpMeta, Entity: entityType, Err: errors.New("response carries no metadata")}
	}
	raw := *resp.Meta
	if raw.Entity == "" {
		raw.Entity = entityType
	}
	return raw, nil
}

// Search runs a full-text search and follows pagination.
func (c *Client) Search(ctx context.Context, entityType, query string, fields []string) ([]entity.Entity, error) {
	return c.read(ctx, Request{Op: OpSearch, Entity: entityType, Filter: query, Fields: fields})
}

// Query runs a where-clause query and follows pagination.
func (c *Client) Query(ctx context.Context, entityType, where string, fields []string) ([]entity.Entity, error) {
	return c.read(ctx, Request{Op: OpQuery, Entity: entityType, Filter: where, Fields: fields})
}

// read follows pagination from offset 0 until the reported total, an empty
// page, or the MaxRecords ceiling.
func (c *Client) read(ctx context.Context, req Request) ([]entity.Entity, error) {
	var out []entity.Entity
	start := 0
	for {
		req.Start = start
		req.Count = min(c.pageSize, c.maxRecords-len(out))

		resp, err := c.call(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Data {
			out = append(out, entity.FromMap(req.Entity, m))
		}

		n := len(resp.Data)
		if n == 0 {
			break
		}
		total := resp.Total
		if total <= 0 {
			// No total reported: the page is all there is.
			total = start + n
		}
		next := start + n
		if next >= total {
			break
		}
		if len(out) >= c.maxRecords {
			c.logger.Printf("remote: %s %s: stopped at %d of %d records (ceiling)", req.Op, req.Entity, len(out), total)
			break
		}
		start = next
	}
	if len(out) > c.maxRecords {
		out = out[:c.maxRecords]
	}
	return out, nil
}

// Find looks up entities of et matching crit, returning fields. It tries the
// external-id fast path first when crit is a single externalID criterion.
func (c *Client) Find(ctx context.Context, et entity.Type, crit Criteria, fields []string, wildcard bool) ([]entity.Entity, error) {
	fields = ReturnFields(fields)
	if extID, ok := crit.ExternalID(); ok && et.ExternalIDLookup && !wildcard {
		if es, served := c.byExternalID(ctx, et, extID, fields); served {
			return es, nil
		}
	}
	if et.Style == entity.StyleQuery {
		return c.Query(ctx, et.Name, crit.Where(), fields)
	}
	return c.Search(ctx, et.Name, crit.Search(wildcard), fields)
}

// byExternalID is the fast path. served is false when the caller must fall
// back to the general search.
func (c *Client) byExternalID(ctx context.Context, et entity.Type, extID string, fields []string) ([]entity.Entity, bool) {
	if c.fastPathDenied.Load() {
		return nil, false
	}
	resp, err := c.call(ctx, Request{Op: OpByExternalID, Entity: et.Name, ExternalID: extID, Fields: fields})
	if err != nil {
		if IsDenied(err) {
			if c.fastPathDenied.CompareAndSwap(false, true) {
				c.logger.Printf("remote: external id lookup not authorized (%v); using search for the rest of the run", err)
			}
		}
		return nil, false
	}
	out := make([]entity.Entity, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, entity.FromMap(et.Name, m))
	}
	return out, true
}

// Insert creates e and returns the new id.
func (c *Client) Insert(ctx context.Context, e *entity.Entity) (int64, error) {
	return c.write(ctx, Request{Op: OpInsert, Entity: e.Type, Data: e.Fields})
}

// Update writes e's fields to the record e.ID.
func (c *Client) Update(ctx context.Context, e *entity.Entity) (int64, error) {
	if e.ID == 0 {
		return 0, &CallError{Op: OpUpdate, Entity: e.Type, Err: errors.New("update without id")}
	}
	return c.write(ctx, Request{Op: OpUpdate, Entity: e.Type, ID: e.ID, Data: e.Fields})
}

// Delete hard-deletes the record id.
func (c *Client) Delete(ctx context.Context, entityType string, id int64) error {
	_, err := c.write(ctx, Request{Op: OpDelete, Entity: entityType, ID: id})
	return err
}

func (c *Client) write(ctx context.Context, req Request) (int64, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(resp.Messages) > 0 && resp.ChangedEntityID == 0 {
		return 0, &CallError{Op: req.Op, Entity: req.Entity, ChangeType: resp.ChangeType, Messages: resp.Messages}
	}
	id := resp.ChangedEntityID
	if id == 0 {
		id = req.ID
	}
	return id, nil
}

// Associations returns the ids currently related to id through relation,
// following pagination.
func (c *Client) Associations(ctx context.Context, entityType string, id int64, relation string) ([]int64, error) {
	es, err := c.read(ctx, Request{Op: OpAssociations, Entity: entityType, ID: id, Relation: relation, Fields: []string{"id"}})
	if err != nil {
		return nil, err
	}
	return entity.IDs(es), nil
}

// Associate adds ids to the relation in chunks of at most ChunkSize.
func (c *Client) Associate(ctx context.Context, entityType string, id int64, relation string, ids []int64) error {
	return c.chunked(ctx, OpAssociate, entityType, id, relation, ids)
}

// Disassociate removes ids from the relation in chunks of at most ChunkSize.
func (c *Client) Disassociate(ctx context.Context, entityType string, id int64, relation string, ids []int64) error {
	return c.chunked(ctx, OpDisassociate, entityType, id, relation, ids)
}

// chunked issues one call per chunk, in order. Chunks applied before a
// failing chunk are not undone; the failure is reported as
// *PartialAssociationError.
func (c *Client) chunked(ctx context.Context, op Op, entityType string, id int64, relation string, ids []int64) error {
	ids = dedupe(ids)
	for i := 0; i < len(ids); i += c.chunkSize {
		part := ids[i:min(i+c.chunkSize, len(ids))]
		_, err := c.call(ctx, Request{Op: op, Entity: entityType, ID: id, Relation: relation, IDs: part})
		if err != nil {
			var ce *CallError
			if op == OpAssociate && errors.As(err, &ce) && ce.alreadyExists() {
				continue
			}
			if i == 0 {
				return err
			}
			return &PartialAssociationError{
				Op: op, Entity: entityType, ID: id, Relation: relation,
				Applied: append([]int64(nil), ids[:i]...),
				Failed:  append([]int64(nil), ids[i:]...),
				Err:     err,
			}
		}
	}
	return nil
}

// Complete posts the end-of-run summary.
func (c *Client) Complete(ctx context.Context, summary map[string]any) error {
	_, err := c.call(ctx, Request{Op: OpComplete, Data: summary})
	if err != nil {
		return fmt.Errorf("completion notice: %w", err)
	}
	return nil
}

// Countries returns every country as name → id.
func (c *Client) Countries(ctx context.Context) (map[string]int64, error) {
	es, err := c.Query(ctx, "Country", "id>0", []string{"id", "name"})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(es))
	for _, e := range es {
		if name := strings.TrimSpace(e.String("name")); name != "" {
			out[name] = e.ID
		}
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
