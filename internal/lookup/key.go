// Package lookup caches the results of existence and association-target
// searches for the duration of a run.
//
// Keys are canonical: return fields are sorted, search terms are ordered by
// field name, and the values of a single multi-valued term are split on the
// list delimiter, normalized and sorted, so "X;Y" and "Y;X" are the same key.
// The cache never performs I/O itself; Loader wraps it with a single-flight
// group so that concurrent misses for one key issue one remote call.
package lookup

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	partSep  = "\x1e"
	valueSep = "\x1f"
)

var fold = cases.Fold()

// Term is one search field and its raw cell value.
type Term struct {
	Field string
	Value string
}

// Key identifies one cached lookup.
type Key struct {
	Entity  string
	returns string
	names   string
	values  string

	// field and individual are set for single-term lookups without
	// wildcards; they drive the per-value index.
	field      string
	individual []string
}

// NewKey canonicalizes a lookup. delim splits a single term's value into its
// parts; wildcard disables the per-value index.
func NewKey(entityType string, returnFields []string, terms []Term, delim string, wildcard bool) Key {
	k := Key{Entity: entityType}

	rf := append([]string(nil), returnFields...)
	sort.Strings(rf)
	k.returns = strings.Join(rf, ",")

	ts := append([]Term(nil), terms...)
	sort.SliceStable(ts, func(i, j int) bool { return fold.String(ts[i].Field) < fold.String(ts[j].Field) })

	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Field
	}
	k.names = strings.Join(names, ",")

	if len(ts) == 1 {
		parts := splitValues(ts[0].Value, delim)
		sort.Strings(parts)
		k.values = strings.Join(parts, valueSep)
		if !wildcard && len(parts) > 0 {
			k.field = ts[0].Field
			k.individual = parts
		}
		return k
	}

	vals := make([]string, len(ts))
	for i, t := range ts {
		vals[i] = normalize(t.Value)
	}
	k.values = strings.Join(vals, valueSep)
	return k
}

// String is the full canonical form, usable as a map or single-flight key.
func (k Key) String() string {
	return k.Entity + partSep + k.returns + partSep + k.names + partSep + k.values
}

// Values returns the canonical, sorted parts of a single-term key.
func (k Key) Values() []string { return append([]string(nil), k.individual...) }

func splitValues(raw, delim string) []string {
	var parts []string
	if delim == "" {
		parts = []string{raw}
	} else {
		parts = strings.Split(raw, delim)
	}
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = normalize(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// normalize trims and NFC-normalizes a value so that composed and decomposed
// spellings of the same text share a key.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// indexKey is the per-value index form. Values differing only in case are
// different entries.
func indexKey(s string) string {
	return normalize(s)
}
