package task

import (
	"strings"
	"sync"

	"dataloader/internal/record"
)

// keyLocks hands out one mutex per key. Entries are dropped once no task
// holds or waits on them.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is free and returns its release func. The release
// func may be called more than once. An empty key is never locked.
func (l *keyLocks) lock(key string) func() {
	if key == "" {
		return func() {}
	}
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*keyLock)
	}
	kl := l.m[key]
	if kl == nil {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return sync.OnceFunc(func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	})
}

// existLockKey identifies the entity a row's exist fields resolve to. Rows
// of one type with equal exist values share it.
func existLockKey(rec *record.Record) string {
	fields := rec.ExistFields()
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(rec.Entity.Name)
	for _, f := range fields {
		b.WriteString("\x1e")
		b.WriteString(f.Path())
		b.WriteString("=")
		b.WriteString(strings.TrimSpace(f.Value))
	}
	return b.String()
}
