package meta

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFetcher struct {
	calls atomic.Int64
	delay time.Duration
	fail  map[string]error
}

func (f *fakeFetcher) Meta(ctx context.Context, entityType string) (RawEntity, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if err := f.fail[entityType]; err != nil {
		return RawEntity{}, err
	}
	raw := candidateMeta()
	raw.Entity = entityType
	return raw, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestCatalog_ConcurrentFirstCallsFetchOnce(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{delay: 20 * time.Millisecond}
	c := NewCatalog(f, quietLogger())

	const n = 32
	var wg sync.WaitGroup
	schemas := make([]*Schema, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Schema(context.Background(), "Candidate")
			if err != nil {
				t.Errorf("Schema error: %v", err)
				return
			}
			schemas[i] = s
		}(i)
	}
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("metadata calls=%d; want 1", got)
	}
	for i := 1; i < n; i++ {
		if schemas[i] != schemas[0] {
			t.Fatalf("caller %d got a different schema instance", i)
		}
	}
}

func TestCatalog_FailureIsPerEntityType(t *testing.T) {
	t.Parallel()

	boom := errors.New("unreachable")
	f := &fakeFetcher{fail: map[string]error{"Lead": boom}}
	c := NewCatalog(f, quietLogger())
	ctx := context.Background()

	_, err := c.Schema(ctx, "Lead")
	var se *SchemaError
	if !errors.As(err, &se) || se.Entity != "Lead" || !errors.Is(err, boom) {
		t.Fatalf("err=%v; want *SchemaError for Lead wrapping boom", err)
	}
	// Remembered: no second fetch.
	if _, err := c.Schema(ctx, "Lead"); !IsSchemaError(err) {
		t.Fatalf("second call err=%v; want SchemaError", err)
	}
	if _, err := c.Schema(ctx, "Candidate"); err != nil {
		t.Fatalf("Candidate must stay usable: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("metadata calls=%d; want 2", got)
	}
	if got := c.Fetches(); got != 2 {
		t.Fatalf("Fetches()=%d; want 2", got)
	}
}
