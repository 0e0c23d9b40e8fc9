package record

import (
	"strings"

	"dataloader/internal/entity"
	"dataloader/internal/meta"
)

// Field is one cell resolved against the schema.
type Field struct {
	// Column is the header as it appeared in the input.
	Column string
	Value  string
	Meta   meta.FieldMeta
	// Exists marks fields used to look up a pre-existing entity.
	Exists bool
	// Synthesized marks fields the mapper derived from other cells.
	Synthesized bool
}

// Path is the canonical schema path.
func (f Field) Path() string { return f.Meta.Path }

// Kind is the association kind of the field.
func (f Field) Kind() meta.Kind { return f.Meta.Kind }

func (f Field) IsToOne() bool    { return f.Meta.Kind == meta.ToOne }
func (f Field) IsToMany() bool   { return f.Meta.Kind == meta.ToMany }
func (f Field) IsCompound() bool { return f.Meta.Kind == meta.Compound }

// Empty reports whether the cell carries no value.
func (f Field) Empty() bool { return strings.TrimSpace(f.Value) == "" }

// TargetField is the field name used to find the associated entity, e.g.
// "name" for "primarySkills.name". For direct fields it is the path itself.
func (f Field) TargetField() string {
	if f.Meta.Associated() {
		if f.Meta.Sub == "" {
			return "id"
		}
		return f.Meta.Sub
	}
	return f.Meta.Path
}

// Values splits the cell on delim, trimming blanks. Single-valued fields
// return one element.
func (f Field) Values(delim string) []string {
	if f.Empty() {
		return nil
	}
	if delim == "" || !f.IsToMany() {
		return []string{strings.TrimSpace(f.Value)}
	}
	parts := strings.Split(f.Value, delim)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Record is a Row bound to an entity type.
type Record struct {
	Entity entity.Type
	Row    Row
	Schema *meta.Schema
	Fields []Field
}

// Field returns the field bound to path, ignoring case.
func (r *Record) Field(path string) (Field, bool) {
	k := key(path)
	for _, f := range r.Fields {
		if key(f.Meta.Path) == k {
			return f, true
		}
	}
	return Field{}, false
}

// ExistFields returns the fields used for existence lookups.
func (r *Record) ExistFields() []Field {
	return r.filter(func(f Field) bool { return f.Exists })
}

// DirectFields returns direct and compound fields.
func (r *Record) DirectFields() []Field {
	return r.filter(func(f Field) bool { return f.Kind() == meta.Direct || f.Kind() == meta.Compound })
}

// ToOneFields returns to-one association fields.
func (r *Record) ToOneFields() []Field {
	return r.filter(Field.IsToOne)
}

// ToManyFields returns to-many association fields. Empty cells are included
// only when processEmpty is set.
func (r *Record) ToManyFields(processEmpty bool) []Field {
	return r.filter(func(f Field) bool {
		return f.IsToMany() && (processEmpty || !f.Empty())
	})
}

func (r *Record) filter(keep func(Field) bool) []Field {
	var out []Field
	for _, f := range r.Fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
