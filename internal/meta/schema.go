// Package meta discovers and caches the field schema of each remote entity
// type.
//
// The remote service describes an entity as a tree: scalar fields, composite
// fields with their own sub-fields (an embedded address), and associations
// whose associated entity carries sub-fields of its own. Flatten walks that
// tree breadth-first and records one FieldMeta per dotted path, together with
// an accessor pair that reads and writes the path on an entity.Entity.
//
// Field names and labels are matched case-insensitively using Unicode case
// folding; the schema's spelling is canonical.
package meta

import (
	"fmt"
	"strings"

	"dataloader/internal/entity"

	"golang.org/x/text/cases"
)

// Kind is the association kind of a field path.
type Kind int

const (
	Direct Kind = iota
	Compound
	ToOne
	ToMany
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Compound:
		return "compound"
	case ToOne:
		return "to-one"
	case ToMany:
		return "to-many"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Raw field type names as reported by the metadata endpoint.
const (
	TypeID        = "ID"
	TypeScalar    = "SCALAR"
	TypeComposite = "COMPOSITE"
	TypeToOne     = "TO_ONE"
	TypeToMany    = "TO_MANY"
)

// RawField is one node of the metadata tree.
type RawField struct {
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	DataType         string     `json:"dataType"`
	Label            string     `json:"label"`
	Fields           []RawField `json:"fields,omitempty"`
	AssociatedEntity *RawEntity `json:"associatedEntity,omitempty"`
}

// RawEntity is the metadata payload for one entity type.
type RawEntity struct {
	Entity string     `json:"entity"`
	Label  string     `json:"label"`
	Fields []RawField `json:"fields"`
}

// FieldMeta describes one flattened path.
type FieldMeta struct {
	// Path is the dotted path, e.g. "address.city" or "primarySkills.name".
	Path string
	// Base is the first path segment; Sub is everything after it.
	Base string
	Sub  string
	// Name is the last path segment.
	Name     string
	Label    string
	DataType string
	Kind     Kind
	// Target is the associated entity type for to-one and to-many paths.
	Target string
}

// Associated reports whether the path lives on an associated entity.
func (f FieldMeta) Associated() bool { return f.Kind == ToOne || f.Kind == ToMany }

// Accessor reads and writes one path on an entity.
type Accessor struct {
	Get func(e *entity.Entity) (any, bool)
	Set func(e *entity.Entity, v any)
}

// Schema is the flattened, read-only schema of one entity type.
type Schema struct {
	Entity string

	order     []string
	byPath    map[string]FieldMeta
	byLabel   map[string]string
	accessors map[string]Accessor
}

var fold = cases.Fold()

func key(s string) string { return fold.String(strings.TrimSpace(s)) }

// Lookup resolves name (a path or a label) to its FieldMeta. Matching ignores
// case; the returned Path has the schema's canonical spelling.
func (s *Schema) Lookup(name string) (FieldMeta, bool) {
	k := key(name)
	if f, ok := s.byPath[k]; ok {
		return f, true
	}
	if p, ok := s.byLabel[k]; ok {
		return s.byPath[key(p)], true
	}
	return FieldMeta{}, false
}

// Has reports whether name resolves.
func (s *Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Fields returns all paths in breadth-first discovery order.
func (s *Schema) Fields() []FieldMeta {
	out := make([]FieldMeta, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.byPath[key(p)])
	}
	return out
}

// Accessor returns the accessor pair for the canonical path.
func (s *Schema) Accessor(path string) (Accessor, bool) {
	a, ok := s.accessors[key(path)]
	return a, ok
}

type pending struct {
	prefix string
	base   string
	kind   Kind
	target string
	fields []RawField
}

// Flatten builds a Schema from a metadata tree, breadth-first.
func Flatten(raw RawEntity) (*Schema, error) {
	if strings.TrimSpace(raw.Entity) == "" {
		return nil, fmt.Errorf("meta: entity name missing")
	}
	if len(raw.Fields) == 0 {
		return nil, fmt.Errorf("meta: %s: no fields in metadata", raw.Entity)
	}

	s := &Schema{
		Entity:    raw.Entity,
		byPath:    map[string]FieldMeta{},
		byLabel:   map[string]string{},
		accessors: map[string]Accessor{},
	}

	queue := []pending{{kind: Direct, fields: raw.Fields}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, f := range cur.fields {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				return nil, fmt.Errorf("meta: %s: field with empty name under %q", raw.Entity, cur.prefix)
			}
			path := cur.prefix + name

			fm := FieldMeta{
				Path:     path,
				Name:     name,
				Label:    f.Label,
				DataType: f.DataType,
				Kind:     cur.kind,
				Target:   cur.target,
				Base:     cur.base,
			}
			if cur.prefix == "" {
				fm.Base = name
			} else {
				fm.Sub = strings.TrimPrefix(path, cur.base+".")
			}

			var next *pending
			if cur.prefix == "" {
				switch strings.ToUpper(f.Type) {
				case TypeComposite:
					fm.Kind = Compound
					next = &pending{prefix: path + ".", base: name, kind: Compound, fields: f.Fields}
				case TypeToOne, TypeToMany:
					fm.Kind = ToOne
					if strings.EqualFold(f.Type, TypeToMany) {
						fm.Kind = ToMany
					}
					if f.AssociatedEntity != nil {
						fm.Target = f.AssociatedEntity.Entity
						next = &pending{prefix: path + ".", base: name, kind: fm.Kind, target: fm.Target, fields: f.AssociatedEntity.Fields}
					}
				}
			} else if len(f.Fields) > 0 {
				next = &pending{prefix: path + ".", base: cur.base, kind: cur.kind, target: cur.target, fields: f.Fields}
			} else if f.AssociatedEntity != nil && len(f.AssociatedEntity.Fields) > 0 {
				next = &pending{prefix: path + ".", base: cur.base, kind: cur.kind, target: cur.target, fields: f.AssociatedEntity.Fields}
			}

			s.add(fm)
			if next != nil {
				queue = append(queue, *next)
			}
		}
	}
	return s, nil
}

func (s *Schema) add(f FieldMeta) {
	k := key(f.Path)
	if _, dup := s.byPath[k]; dup {
		return
	}
	s.order = append(s.order, f.Path)
	s.byPath[k] = f
	if f.Label != "" && f.Sub == "" {
		if _, taken := s.byLabel[key(f.Label)]; !taken {
			s.byLabel[key(f.Label)] = f.Path
		}
	}
	s.accessors[k] = accessorFor(f)
}

// accessorFor builds the read/write pair for a path. To-one paths always
// write the association as {"id": v} on the base field, whatever sub-field
// the row used to identify the target.
func accessorFor(f FieldMeta) Accessor {
	var path []string
	switch f.Kind {
	case ToOne:
		path = []string{f.Base, "id"}
	case Compound:
		if f.Sub == "" {
			path = []string{f.Base}
		} else {
			path = append([]string{f.Base}, strings.Split(f.Sub, ".")...)
		}
	case ToMany:
		path = []string{f.Base}
	default:
		path = strings.Split(f.Path, ".")
	}
	return Accessor{
		Get: func(e *entity.Entity) (any, bool) { return e.Get(path...) },
		Set: func(e *entity.Entity, v any) { e.Set(v, path...) },
	}
}
