package remote

import (
	"reflect"
	"strconv"
	"testing"
)

func TestCriteria_Render(t *testing.T) {
	t.Parallel()

	c := Criteria{
		{Field: "externalID", Values: []string{`ext"1`}},
		{Field: "id", Values: []string{"5"}, DataType: "Integer"},
		{Field: "name", Values: []string{"A", "B"}},
	}
	if got, want := c.Search(false), `externalID:"ext\"1" AND id:5 AND name:("A" OR "B")`; got != want {
		t.Fatalf("Search()=%q; want %q", got, want)
	}
	if got, want := c.Search(true), `externalID:ext"1 AND id:5 AND name:(A OR B)`; got != want {
		t.Fatalf("Search(wildcard)=%q; want %q", got, want)
	}
	if got, want := c.Where(), `externalID='ext"1' AND id=5 AND name IN ('A','B')`; got != want {
		t.Fatalf("Where()=%q; want %q", got, want)
	}
	if got, want := c.String(), `externalID=ext"1 AND id=5 AND name=A,B`; got != want {
		t.Fatalf("String()=%q; want %q", got, want)
	}
}

func TestCriteria_ExternalID(t *testing.T) {
	t.Parallel()

	if v, ok := (Criteria{{Field: "ExternalID", Values: []string{"e"}}}).ExternalID(); !ok || v != "e" {
		t.Fatalf("ExternalID()=%q,%v; want e,true", v, ok)
	}
	if _, ok := (Criteria{{Field: "externalID", Values: []string{"e"}}, {Field: "name", Values: []string{"n"}}}).ExternalID(); ok {
		t.Fatalf("two criteria must not use the fast path")
	}
}

func TestReturnFields(t *testing.T) {
	t.Parallel()

	if got, want := ReturnFields([]string{"name", "address.city", "address.zip", "id"}), []string{"address", "id", "name"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ReturnFields=%v; want %v", got, want)
	}
	many := make([]string, 40)
	for i := range many {
		many[i] = "f" + strconv.Itoa(i)
	}
	if got := ReturnFields(many); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("ReturnFields(40 fields)=%v; want [*]", got)
	}
}
