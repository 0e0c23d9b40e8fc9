package entity

import "testing"

func TestRegistry_LookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	c, ok := r.Lookup("candidate")
	if !ok {
		t.Fatalf("Lookup(candidate) not found")
	}
	if c.Name != "Candidate" {
		t.Fatalf("Name=%q; want Candidate", c.Name)
	}
	if !c.Creatable() || !c.Updatable() || !c.Deletable() || c.HardDeletable() {
		t.Fatalf("unexpected capabilities for Candidate: %b", c.Ops)
	}
	if _, ok := r.Lookup("NoSuchThing"); ok {
		t.Fatalf("unexpected hit for unknown type")
	}
}

func TestDefaultTypes_FastPathExclusions(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	for _, name := range []string{"JobOrder", "Lead", "Opportunity"} {
		if r.MustLookup(name).ExternalIDLookup {
			t.Fatalf("%s must not use the external id fast path", name)
		}
	}
	co := r.MustLookup("ClientCorporationCustomObjectInstance3")
	if !co.Custom || !co.HardDeletable() {
		t.Fatalf("custom object flags wrong: %+v", co)
	}
}

func TestRegistry_TypesSortedByLoadOrder(t *testing.T) {
	t.Parallel()

	types := DefaultRegistry().Types()
	for i := 1; i < len(types); i++ {
		if types[i-1].LoadOrder > types[i].LoadOrder {
			t.Fatalf("types not sorted at %d: %s(%d) before %s(%d)",
				i, types[i-1].Name, types[i-1].LoadOrder, types[i].Name, types[i].LoadOrder)
		}
	}
}

func TestEntity_GetSetNested(t *testing.T) {
	t.Parallel()

	e := New("Candidate")
	e.Set("Prague", "address", "city")
	e.Set(int64(7), "owner", "id")

	if got := e.String("address", "city"); got != "Prague" {
		t.Fatalf("address.city=%q; want Prague", got)
	}
	if got, ok := e.Get("owner", "id"); !ok || got != int64(7) {
		t.Fatalf("owner.id=%v,%v; want 7,true", got, ok)
	}
	if _, ok := e.Get("address", "zip"); ok {
		t.Fatalf("unexpected value for address.zip")
	}
}

func TestFromMap_LiftsID(t *testing.T) {
	t.Parallel()

	e := FromMap("Skill", map[string]any{"id": float64(12), "name": "Go"})
	if e.ID != 12 {
		t.Fatalf("ID=%d; want 12", e.ID)
	}
	if got := e.String("name"); got != "Go" {
		t.Fatalf("name=%q; want Go", got)
	}
	if got := FormatValue(float64(3.5)); got != "3.5" {
		t.Fatalf("FormatValue(3.5)=%q", got)
	}
}
