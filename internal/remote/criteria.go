package remote

import (
	"sort"
	"strings"

	"dataloader/internal/meta"
)

// maxReturnFields is the largest explicit field list sent; longer lists are
// replaced by "*".
const maxReturnFields = 30

// Criterion restricts one field to one or more values.
type Criterion struct {
	Field    string
	Values   []string
	DataType string
}

// Criteria is an AND of criteria.
type Criteria []Criterion

// Search renders c in full-text search syntax: field:"value" terms joined by
// AND, multi-valued terms as field:("a" OR "b").
func (c Criteria) Search(wildcard bool) string {
	terms := make([]string, 0, len(c))
	for _, cr := range c {
		vals := make([]string, 0, len(cr.Values))
		for _, v := range cr.Values {
			vals = append(vals, searchValue(v, cr.DataType, wildcard))
		}
		switch len(vals) {
		case 0:
			continue
		case 1:
			terms = append(terms, cr.Field+":"+vals[0])
		default:
			terms = append(terms, cr.Field+":("+strings.Join(vals, " OR ")+")")
		}
	}
	return strings.Join(terms, " AND ")
}

func searchValue(v, dataType string, wildcard bool) string {
	if wildcard || meta.Numeric(dataType) {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// Where renders c as a SQL-like where clause: field='value' terms joined by
// AND, multi-valued terms as field IN ('a','b').
func (c Criteria) Where() string {
	terms := make([]string, 0, len(c))
	for _, cr := range c {
		vals := make([]string, 0, len(cr.Values))
		for _, v := range cr.Values {
			vals = append(vals, whereValue(v, cr.DataType))
		}
		switch len(vals) {
		case 0:
			continue
		case 1:
			terms = append(terms, cr.Field+"="+vals[0])
		default:
			terms = append(terms, cr.Field+" IN ("+strings.Join(vals, ",")+")")
		}
	}
	return strings.Join(terms, " AND ")
}

func whereValue(v, dataType string) string {
	if meta.Numeric(dataType) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// String renders c for messages: "f1=v1 AND f2=v2".
func (c Criteria) String() string {
	terms := make([]string, 0, len(c))
	for _, cr := range c {
		terms = append(terms, cr.Field+"="+strings.Join(cr.Values, ","))
	}
	return strings.Join(terms, " AND ")
}

// ExternalID returns the value when c is exactly one single-valued
// externalID criterion.
func (c Criteria) ExternalID() (string, bool) {
	if len(c) != 1 || !strings.EqualFold(c[0].Field, "externalID") || len(c[0].Values) != 1 {
		return "", false
	}
	return c[0].Values[0], true
}

// ReturnFields returns the field list to request: the given fields plus id,
// deduplicated and sorted, or "*" when the list is too long.
func ReturnFields(fields []string) []string {
	seen := map[string]bool{"id": true}
	out := []string{"id"}
	for _, f := range fields {
		// Only the top-level name can be requested.
		base, _, _ := strings.Cut(strings.TrimSpace(f), ".")
		if base == "" || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, base)
	}
	if len(out) > maxReturnFields {
		return []string{"*"}
	}
	sort.Strings(out)
	return out
}
