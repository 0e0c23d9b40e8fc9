// Package record binds raw input rows to entity schemas.
//
// A Row is the ordered list of cells read from one input record. The Mapper
// resolves every cell against the Schema Catalog and produces a Record: a
// list of Field bindings that know their canonical path, data type and
// association kind, and whether they take part in existence lookups.
package record

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

func key(s string) string { return fold.String(strings.TrimSpace(s)) }

// Cell is one (column, value) pair.
type Cell struct {
	Name  string
	Value string
}

// Row is one input record. Number is 1-based over data rows; Source is the
// input path used in error reports.
type Row struct {
	Number int
	Source string
	Cells  []Cell
}

// NewRow zips names and values into a Row. Missing trailing values are empty.
func NewRow(number int, source string, names, values []string) Row {
	cells := make([]Cell, len(names))
	for i, n := range names {
		cells[i].Name = n
		if i < len(values) {
			cells[i].Value = values[i]
		}
	}
	return Row{Number: number, Source: source, Cells: cells}
}

// Value returns the value of the first cell whose name matches, ignoring case.
func (r Row) Value(name string) (string, bool) {
	k := key(name)
	for _, c := range r.Cells {
		if key(c.Name) == k {
			return c.Value, true
		}
	}
	return "", false
}

// Names returns the column names in order.
func (r Row) Names() []string {
	out := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.Name
	}
	return out
}

// Values returns the cell values in order.
func (r Row) Values() []string {
	out := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.Value
	}
	return out
}

// With returns a copy of r with the cell at index i replaced.
func (r Row) With(i int, c Cell) Row {
	cells := make([]Cell, len(r.Cells))
	copy(cells, r.Cells)
	cells[i] = c
	return Row{Number: r.Number, Source: r.Source, Cells: cells}
}

// ReadError is a malformed input record. A row stream returns it for one bad
// record and can keep going; any other error ends the stream.
type ReadError struct {
	Number int
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: row %d: %v", e.Source, e.Number, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
