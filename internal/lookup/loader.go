package lookup

import (
	"context"
	"sync/atomic"

	"dataloader/internal/entity"
	"dataloader/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// FetchFunc performs the remote search for a cache miss.
type FetchFunc func(ctx context.Context) ([]entity.Entity, error)

// Loader serves lookups from a Cache and fills misses through fetch, issuing
// at most one concurrent fetch per key. Failed fetches are not cached.
type Loader struct {
	cache *Cache
	job   string
	group singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// NewLoader returns a Loader over cache. job labels the lookup metrics.
func NewLoader(cache *Cache, job string) *Loader {
	if cache == nil {
		cache = New()
	}
	return &Loader{cache: cache, job: job}
}

// Cache returns the underlying cache.
func (l *Loader) Cache() *Cache { return l.cache }

// Load returns the entities for k, calling fetch on a miss.
func (l *Loader) Load(ctx context.Context, k Key, fetch FetchFunc) ([]entity.Entity, error) {
	if es, ok := l.cache.Get(k); ok {
		l.hits.Add(1)
		metrics.RecordLookup(l.job, true)
		return es, nil
	}
	l.misses.Add(1)
	metrics.RecordLookup(l.job, false)

	v, err, _ := l.group.Do(k.String(), func() (any, error) {
		if es, ok := l.cache.Get(k); ok {
			return es, nil
		}
		l.fetches.Add(1)
		es, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.cache.Put(k, es)
		return es, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]entity.Entity), nil
}

// Stats returns hit, miss and fetch counts.
func (l *Loader) Stats() (hits, misses, fetches int64) {
	return l.hits.Load(), l.misses.Load(), l.fetches.Load()
}
