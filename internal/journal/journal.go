// Package journal records the outcome of every row so an interrupted or
// partly failed run can be resumed: rows whose (source, row, fingerprint)
// already succeeded are skipped on the next run.
//
// Backends register a Factory for their kind at init time; importing
// dataloader/internal/journal/all enables every built-in backend.
package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dataloader/internal/record"
	"dataloader/internal/result"

	"github.com/zeebo/xxh3"
)

// Entry is one journaled row outcome.
type Entry struct {
	RunID       string
	Job         string
	Entity      string
	Source      string
	Row         int
	Fingerprint uint64
	Action      result.Action
	RemoteID    int64
	Code        string
	Message     string
	At          time.Time
}

// Journal persists entries and answers resume queries.
type Journal interface {
	// Record stores a batch of entries.
	Record(ctx context.Context, entries []Entry) error
	// Succeeded reports whether an earlier entry for the same source, row
	// and fingerprint was an INSERT, UPDATE or DELETE.
	Succeeded(ctx context.Context, source string, row int, fingerprint uint64) (bool, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Factory opens a Journal for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Journal, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it from
// init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open opens the journal for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Journal, error) {
	mu.RLock()
	f, ok := factories[strings.ToLower(cfg.Kind)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("journal: unsupported kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Fingerprint hashes a row's column names and values in order. Editing any
// cell, renaming a column or reordering columns changes it.
func Fingerprint(row record.Row) uint64 {
	h := xxh3.New()
	var n [8]byte
	for _, c := range row.Cells {
		binary.LittleEndian.PutUint64(n[:], uint64(len(c.Name)))
		_, _ = h.Write(n[:])
		_, _ = h.WriteString(c.Name)
		binary.LittleEndian.PutUint64(n[:], uint64(len(c.Value)))
		_, _ = h.Write(n[:])
		_, _ = h.WriteString(c.Value)
	}
	return h.Sum64()
}
