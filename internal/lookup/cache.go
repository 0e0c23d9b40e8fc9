package lookup

import (
	"strings"
	"sync"

	"dataloader/internal/entity"
)

// Cache maps lookup keys to previously retrieved entities. It is a nested
// structure: entity type → return fields → search field names → Bucket. Each
// level has its own lock, so unrelated keys never contend and readers of an
// existing bucket do not block each other.
type Cache struct {
	mu       sync.RWMutex
	entities map[string]*returnLevel
}

type returnLevel struct {
	mu      sync.RWMutex
	returns map[string]*nameLevel
}

type nameLevel struct {
	mu    sync.RWMutex
	names map[string]*Bucket
}

// Bucket maps canonical search values to results. For single-field lookups
// it also indexes each result under its own field value.
type Bucket struct {
	mu         sync.RWMutex
	values     map[string][]entity.Entity
	individual map[string][]entity.Entity
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entities: map[string]*returnLevel{}}
}

// child returns m[k] under mu, creating it with mk when create is set.
func child[T any](mu *sync.RWMutex, m map[string]*T, k string, create bool, mk func() *T) *T {
	mu.RLock()
	v, ok := m[k]
	mu.RUnlock()
	if ok || !create {
		return v
	}
	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[k]; ok {
		return v
	}
	v = mk()
	m[k] = v
	return v
}

func (c *Cache) bucket(k Key, create bool) *Bucket {
	rl := child(&c.mu, c.entities, k.Entity, create, func() *returnLevel {
		return &returnLevel{returns: map[string]*nameLevel{}}
	})
	if rl == nil {
		return nil
	}
	nl := child(&rl.mu, rl.returns, k.returns, create, func() *nameLevel {
		return &nameLevel{names: map[string]*Bucket{}}
	})
	if nl == nil {
		return nil
	}
	return child(&nl.mu, nl.names, k.names, create, func() *Bucket {
		return &Bucket{values: map[string][]entity.Entity{}, individual: map[string][]entity.Entity{}}
	})
}

// Get returns the cached result for k. A lookup whose every value was
// indexed individually by earlier results is also a hit.
func (c *Cache) Get(k Key) ([]entity.Entity, bool) {
	b := c.bucket(k, false)
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if es, ok := b.values[k.values]; ok {
		return es, true
	}
	if len(k.individual) == 0 {
		return nil, false
	}
	var out []entity.Entity
	seen := map[int64]bool{}
	for _, v := range k.individual {
		es, ok := b.individual[indexKey(v)]
		if !ok {
			return nil, false
		}
		for _, e := range es {
			if !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	return out, true
}

// Put stores es under k.
func (c *Cache) Put(k Key, es []entity.Entity) {
	b := c.bucket(k, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[k.values] = es
	if k.field == "" {
		return
	}
	path := strings.Split(k.field, ".")
	for i := range es {
		v := indexKey(es[i].String(path...))
		if v == "" {
			continue
		}
		b.individual[v] = appendUnique(b.individual[v], es[i])
	}
}

func appendUnique(es []entity.Entity, e entity.Entity) []entity.Entity {
	for _, x := range es {
		if x.ID == e.ID {
			return es
		}
	}
	return append(es, e)
}
