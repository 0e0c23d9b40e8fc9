package record

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"dataloader/internal/entity"
	"dataloader/internal/meta"
)

// SchemaSource returns the schema of an entity type. *meta.Catalog satisfies it.
type SchemaSource interface {
	Schema(ctx context.Context, entityType string) (*meta.Schema, error)
}

// MappingError reports a cell that cannot be bound to the schema. It fails
// only the row it occurred in.
type MappingError struct {
	Row    int
	Source string
	Entity string
	Column string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("row %d: %s column %q: %s", e.Row, e.Entity, e.Column, e.Reason)
}

// addressParts are compound sub-fields commonly supplied without their
// "address." prefix by mistake.
var addressParts = map[string]bool{
	"address1": true, "address2": true, "city": true, "state": true,
	"zip": true, "countryid": true, "countryname": true,
}

// Mapper turns rows into records. It is safe for concurrent use.
type Mapper struct {
	schemas SchemaSource
	exists  map[string]map[string]bool
	logger  *log.Logger

	nameNotice sync.Once
}

// NewMapper returns a Mapper. existFields maps entity type names to the
// columns used for existence lookups.
func NewMapper(schemas SchemaSource, existFields map[string][]string, logger *log.Logger) *Mapper {
	if logger == nil {
		logger = log.Default()
	}
	ex := make(map[string]map[string]bool, len(existFields))
	for et, fields := range existFields {
		set := make(map[string]bool, len(fields))
		for _, f := range fields {
			set[key(f)] = true
		}
		ex[key(et)] = set
	}
	return &Mapper{schemas: schemas, exists: ex, logger: logger}
}

// ExistFields returns the configured exists columns for et.
func (m *Mapper) ExistFields(et string) map[string]bool { return m.exists[key(et)] }

// Build binds row to et. Schema failures are returned unchanged so callers
// can tell them apart from *MappingError.
func (m *Mapper) Build(ctx context.Context, et entity.Type, row Row) (*Record, error) {
	schema, err := m.schemas.Schema(ctx, et.Name)
	if err != nil {
		return nil, err
	}

	rec := &Record{Entity: et, Row: row, Schema: schema, Fields: make([]Field, 0, len(row.Cells))}
	existSet := m.exists[key(et.Name)]
	seenExist := map[string]bool{}

	for _, c := range row.Cells {
		fm, err := resolve(schema, c.Name)
		if err != nil {
			return nil, &MappingError{Row: row.Number, Source: row.Source, Entity: et.Name, Column: c.Name, Reason: err.Error()}
		}
		f := Field{Column: c.Name, Value: c.Value, Meta: fm}
		if existSet[key(c.Name)] || existSet[key(fm.Path)] {
			f.Exists = true
			seenExist[key(fm.Path)] = true
		}
		rec.Fields = append(rec.Fields, f)
	}

	for name := range existSet {
		fm, ok := schema.Lookup(name)
		if !ok {
			return nil, &MappingError{Row: row.Number, Source: row.Source, Entity: et.Name, Column: name,
				Reason: fmt.Sprintf("exist field does not exist on %s", et.Name)}
		}
		if !seenExist[key(fm.Path)] {
			return nil, &MappingError{Row: row.Number, Source: row.Source, Entity: et.Name, Column: name,
				Reason: "exist field is missing from the row"}
		}
	}

	m.synthesizeName(rec)
	return rec, nil
}

// resolve maps a column name to its schema path.
func resolve(s *meta.Schema, column string) (meta.FieldMeta, error) {
	name := strings.TrimSpace(column)
	if name == "" {
		return meta.FieldMeta{}, fmt.Errorf("empty column name")
	}

	base, sub, dotted := strings.Cut(name, ".")
	if !dotted {
		fm, ok := s.Lookup(name)
		if !ok {
			if addressParts[key(name)] {
				return meta.FieldMeta{}, fmt.Errorf("Invalid address field format: '%s' Must use 'address.%s' in csv header", name, name)
			}
			return meta.FieldMeta{}, fmt.Errorf("field does not exist on %s", s.Entity)
		}
		// A bare association column ("owner") identifies the target by id.
		if fm.Associated() && fm.Sub == "" {
			if byID, ok := s.Lookup(fm.Path + ".id"); ok {
				return byID, nil
			}
		}
		return fm, nil
	}

	if fm, ok := s.Lookup(name); ok {
		return fm, nil
	}
	bm, ok := s.Lookup(base)
	if !ok {
		return meta.FieldMeta{}, fmt.Errorf("field %q does not exist on %s", base, s.Entity)
	}
	switch bm.Kind {
	case meta.Compound:
		return meta.FieldMeta{}, fmt.Errorf("%q is not a sub-field of %s.%s", sub, s.Entity, bm.Path)
	case meta.ToOne, meta.ToMany:
		return meta.FieldMeta{}, fmt.Errorf("field %q does not exist on associated %s", sub, bm.Target)
	default:
		return meta.FieldMeta{}, fmt.Errorf("%s.%s is not a compound or association field", s.Entity, bm.Path)
	}
}

// synthesizeName fills "name" from firstName and lastName when the schema
// has all three and the row supplies the parts but not the whole.
func (m *Mapper) synthesizeName(rec *Record) {
	nameMeta, ok := rec.Schema.Lookup("name")
	if !ok || nameMeta.Kind != meta.Direct {
		return
	}
	if _, ok := rec.Field(nameMeta.Path); ok {
		return
	}
	first, okF := rec.Field("firstName")
	last, okL := rec.Field("lastName")
	if !okF || !okL || (first.Empty() && last.Empty()) {
		return
	}

	m.nameNotice.Do(func() {
		m.logger.Printf("mapper: %s rows have firstName and lastName but no name; name will be set to \"firstName lastName\"", rec.Entity.Name)
	})
	rec.Fields = append(rec.Fields, Field{
		Column:      nameMeta.Path,
		Value:       strings.TrimSpace(strings.TrimSpace(first.Value) + " " + strings.TrimSpace(last.Value)),
		Meta:        nameMeta,
		Synthesized: true,
	})
}
