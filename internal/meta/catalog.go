package meta

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Fetcher issues the metadata query for one entity type.
type Fetcher interface {
	Meta(ctx context.Context, entityType string) (RawEntity, error)
}

// SchemaError reports that the schema of an entity type could not be
// discovered. It is fatal for that entity type for the rest of the run.
type SchemaError struct {
	Entity string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema for %s unavailable: %v", e.Entity, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

type entry struct {
	schema *Schema
	err    error
}

// Catalog caches one Schema per entity type for the life of a run. Concurrent
// first requests for the same type share a single metadata query; requests
// for other types are not blocked by it.
type Catalog struct {
	fetch  Fetcher
	logger *log.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry

	fetches int64 // guarded by mu
}

// NewCatalog returns an empty catalog backed by f.
func NewCatalog(f Fetcher, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = log.Default()
	}
	return &Catalog{fetch: f, logger: logger, entries: map[string]entry{}}
}

// Schema returns the schema for entityType, fetching it on first use. A
// failed discovery is remembered and returned as *SchemaError on every later
// call.
func (c *Catalog) Schema(ctx context.Context, entityType string) (*Schema, error) {
	if s, err, ok := c.cached(entityType); ok {
		return s, err
	}

	v, err, _ := c.group.Do(entityType, func() (any, error) {
		if s, err, ok := c.cached(entityType); ok {
			return s, err
		}
		// Shared by every waiter, so the first caller's cancellation must not
		// fail the others.
		raw, err := c.fetch.Meta(context.WithoutCancel(ctx), entityType)
		var s *Schema
		if err == nil {
			s, err = Flatten(raw)
		}
		if err != nil {
			err = &SchemaError{Entity: entityType, Err: err}
			c.logger.Printf("meta: %v", err)
		}
		c.mu.Lock()
		c.entries[entityType] = entry{schema: s, err: err}
		c.fetches++
		c.mu.Unlock()
		return s, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Schema), nil
}

func (c *Catalog) cached(entityType string) (*Schema, error, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityType]
	return e.schema, e.err, ok
}

// Fetches returns how many metadata queries the catalog has issued.
func (c *Catalog) Fetches() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches
}

// IsSchemaError reports whether err is, or wraps, a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
