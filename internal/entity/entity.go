// Package entity defines the registry of remote entity types and the tagged
// Entity value used everywhere instead of per-type structs.
//
// A Type is immutable once registered. The Registry is built at process start
// and only read afterwards, so it needs no locking.
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// Ops is a bit set of operations an entity type supports.
type Ops uint8

const (
	OpCreate Ops = 1 << iota
	OpUpdate
	OpSoftDelete
	OpHardDelete
)

// SearchStyle selects how existence lookups are rendered for a type.
type SearchStyle int

const (
	// StyleSearch uses the full-text search endpoint (field:"value" syntax).
	StyleSearch SearchStyle = iota
	// StyleQuery uses the SQL-like query endpoint (field='value' syntax).
	StyleQuery
)

func (s SearchStyle) String() string {
	if s == StyleQuery {
		return "query"
	}
	return "search"
}

// Type describes one kind of remote record.
type Type struct {
	Name  string
	Label string
	Ops   Ops
	Style SearchStyle
	// Custom marks custom-object types.
	Custom bool
	// ExternalIDLookup reports whether the direct by-external-id lookup is
	// available for this type.
	ExternalIDLookup bool
	// LoadOrder sorts types so that targets of associations load first.
	LoadOrder int
}

// Can reports whether every operation in op is supported.
func (t Type) Can(op Ops) bool { return t.Ops&op == op }

// Creatable reports whether rows may insert new records.
func (t Type) Creatable() bool { return t.Can(OpCreate) }

// Updatable reports whether rows may update existing records.
func (t Type) Updatable() bool { return t.Can(OpUpdate) }

// Deletable reports whether records can be removed, softly or hard.
func (t Type) Deletable() bool { return t.Ops&(OpSoftDelete|OpHardDelete) != 0 }

// HardDeletable reports whether the remote supports a real DELETE for the type.
func (t Type) HardDeletable() bool { return t.Can(OpHardDelete) }

func (t Type) String() string { return t.Name }

// Registry maps type names, case-insensitively, to types.
type Registry struct {
	byKey map[string]Type
}

// NewRegistry builds a registry from types. Later duplicates replace earlier ones.
func NewRegistry(types ...Type) *Registry {
	r := &Registry{byKey: make(map[string]Type, len(types))}
	for _, t := range types {
		if t.Label == "" {
			t.Label = t.Name
		}
		r.byKey[strings.ToLower(t.Name)] = t
	}
	return r
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (Type, bool) {
	t, ok := r.byKey[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// MustLookup is Lookup for names known at compile time.
func (r *Registry) MustLookup(name string) Type {
	t, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("entity: unknown type %q", name))
	}
	return t
}

// Types returns all registered types sorted by load order, then name.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.byKey))
	for _, t := range r.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoadOrder != out[j].LoadOrder {
			return out[i].LoadOrder < out[j].LoadOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}
