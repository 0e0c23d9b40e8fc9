package meta

import (
	"testing"

	"dataloader/internal/entity"
)

func candidateMeta() RawEntity {
	return RawEntity{
		Entity: "Candidate",
		Label:  "Candidate",
		Fields: []RawField{
			{Name: "id", Type: TypeID, DataType: "Integer"},
			{Name: "firstName", Type: TypeScalar, DataType: "String", Label: "First Name"},
			{Name: "externalID", Type: TypeScalar, DataType: "String", Label: "External ID"},
			{Name: "address", Type: TypeComposite, DataType: "Address", Fields: []RawField{
				{Name: "city", Type: TypeScalar, DataType: "String"},
				{Name: "countryID", Type: TypeScalar, DataType: "Integer"},
			}},
			{Name: "owner", Type: TypeToOne, AssociatedEntity: &RawEntity{
				Entity: "CorporateUser",
				Fields: []RawField{
					{Name: "id", Type: TypeID, DataType: "Integer"},
					{Name: "email", Type: TypeScalar, DataType: "String"},
				},
			}},
			{Name: "primarySkills", Type: TypeToMany, AssociatedEntity: &RawEntity{
				Entity: "Skill",
				Fields: []RawField{
					{Name: "id", Type: TypeID, DataType: "Integer"},
					{Name: "name", Type: TypeScalar, DataType: "String"},
				},
			}},
		},
	}
}

func TestFlatten_KindsAndPaths(t *testing.T) {
	t.Parallel()

	s, err := Flatten(candidateMeta())
	if err != nil {
		t.Fatalf("Flatten error: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		kind   Kind
		target string
		dtype  string
	}{
		{"firstname", "firstName", Direct, "", "String"},
		{"First Name", "firstName", Direct, "", "String"},
		{"ADDRESS.CITY", "address.city", Compound, "", "String"},
		{"owner", "owner", ToOne, "CorporateUser", ""},
		{"owner.email", "owner.email", ToOne, "CorporateUser", "String"},
		{"primaryskills.name", "primarySkills.name", ToMany, "Skill", "String"},
	}
	for _, tt := range tests {
		f, ok := s.Lookup(tt.name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", tt.name)
		}
		if f.Path != tt.path || f.Kind != tt.kind || f.Target != tt.target || f.DataType != tt.dtype {
			t.Fatalf("Lookup(%q)=%+v; want path=%s kind=%s target=%q dtype=%q",
				tt.name, f, tt.path, tt.kind, tt.target, tt.dtype)
		}
	}
	if s.Has("address.zip") {
		t.Fatalf("unexpected path address.zip")
	}
}

func TestFlatten_BreadthFirstOrder(t *testing.T) {
	t.Parallel()

	s, err := Flatten(candidateMeta())
	if err != nil {
		t.Fatalf("Flatten error: %v", err)
	}
	fields := s.Fields()
	// All six top-level fields come before any nested path.
	for i, f := range fields[:6] {
		if f.Sub != "" {
			t.Fatalf("fields[%d]=%s is nested; top-level paths must come first", i, f.Path)
		}
	}
	if got := fields[6].Path; got != "address.city" {
		t.Fatalf("first nested path=%q; want address.city", got)
	}
}

func TestFlatten_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := Flatten(RawEntity{Entity: "X"}); err == nil {
		t.Fatalf("expected error for metadata without fields")
	}
	if _, err := Flatten(RawEntity{Entity: "X", Fields: []RawField{{Name: " "}}}); err == nil {
		t.Fatalf("expected error for empty field name")
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	s, err := Flatten(candidateMeta())
	if err != nil {
		t.Fatalf("Flatten error: %v", err)
	}
	e := entity.New("Candidate")

	city, _ := s.Accessor("address.city")
	city.Set(e, "Brno")
	owner, _ := s.Accessor("owner.email")
	owner.Set(e, int64(42))

	if got := e.String("address", "city"); got != "Brno" {
		t.Fatalf("address.city=%q; want Brno", got)
	}
	if got, ok := owner.Get(e); !ok || got != int64(42) {
		t.Fatalf("owner accessor Get=%v,%v; want 42,true", got, ok)
	}
	if got, ok := e.Get("owner", "id"); !ok || got != int64(42) {
		t.Fatalf("owner.id=%v; want 42", got)
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dtype, raw string
		want       any
		wantErr    bool
	}{
		{"Integer", " 12 ", int64(12), false},
		{"Integer", "x", nil, true},
		{"BigDecimal", "1.5", 1.5, false},
		{"Boolean", "Yes", true, false},
		{"Boolean", "0", false, false},
		{"Timestamp", "01/02/2024", int64(1704153600000), false},
		{"Timestamp", "2024-01-02", nil, true},
		{"String", " keep ", " keep ", false},
	}
	for _, tt := range tests {
		got, err := Convert(tt.dtype, tt.raw, "")
		if (err != nil) != tt.wantErr {
			t.Fatalf("Convert(%s,%q) err=%v; wantErr=%v", tt.dtype, tt.raw, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("Convert(%s,%q)=%v (%T); want %v", tt.dtype, tt.raw, got, got, tt.want)
		}
	}
}
