package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Entity is one remote record: its type, id and a bag of field values.
// Nested compound and to-one values are map[string]any; to-many values are
// []any of such maps.
type Entity struct {
	Type   string
	ID     int64
	Fields map[string]any
}

// New returns an empty entity of the named type.
func New(typ string) *Entity {
	return &Entity{Type: typ, Fields: map[string]any{}}
}

// FromMap builds an Entity from a decoded remote payload. The "id" key, if
// present, is lifted into ID.
func FromMap(typ string, m map[string]any) Entity {
	e := Entity{Type: typ, Fields: make(map[string]any, len(m))}
	for k, v := range m {
		e.Fields[k] = v
	}
	if id, ok := ToInt64(m["id"]); ok {
		e.ID = id
	}
	return e
}

// Get returns the value stored under a dotted path such as "address.city".
func (e *Entity) Get(path ...string) (any, bool) {
	var cur any = e.Fields
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v under path, creating intermediate maps as needed.
func (e *Entity) Set(v any, path ...string) {
	if len(path) == 0 {
		return
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	m := e.Fields
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// String renders the field value at path for comparisons and cache indexing.
func (e *Entity) String(path ...string) string {
	v, ok := e.Get(path...)
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// FormatValue renders a decoded field value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// ToInt64 converts a decoded JSON number (or numeric string) to int64.
func ToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// IDs returns the identifiers of es in order.
func IDs(es []Entity) []int64 {
	out := make([]int64, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}
