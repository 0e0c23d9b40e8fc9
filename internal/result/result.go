// Package result holds the per-row outcome model and the run-wide counters
// that the reporting layer consumes.
//
// Every row consumed by the engine produces exactly one RowResult, and every
// RowResult increments exactly one counter in Totals, so the sum of a Totals
// snapshot always equals the number of rows consumed.
package result

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Action classifies the terminal outcome of a row.
type Action int

const (
	Insert Action = iota
	Update
	Delete
	Skip
	Failure

	numActions
)

// Actions lists every Action in reporting order.
var Actions = []Action{Insert, Update, Delete, Skip, Failure}

func (a Action) String() string {
	switch a {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case Skip:
		return "SKIP"
	case Failure:
		return "FAILURE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction is the inverse of Action.String. It is case-insensitive.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(a.String(), s) {
			return a, nil
		}
	}
	return Failure, fmt.Errorf("unknown action %q", s)
}

// Succeeded reports whether the action represents a completed remote write.
func (a Action) Succeeded() bool {
	return a == Insert || a == Update || a == Delete
}

// Error codes carried by FAILURE results.
const (
	CodeMapping            = "mapping"
	CodeAmbiguousMatch     = "ambiguous_match"
	CodeRemoteCall         = "remote_call"
	CodePartialAssociation = "partial_association"
	CodeSchema             = "schema"
	CodeNotFound           = "not_found"
	CodeUnsupported        = "unsupported"
	CodeInternal           = "internal"
)

// RowResult is the immutable outcome of one row.
type RowResult struct {
	// Row is the 1-based sequence number of the input row.
	Row int
	// Source is the path of the input the row came from.
	Source string
	Action Action
	// ID is the remote identifier of the entity the row resolved to, or 0.
	ID int64
	// Code and Message describe the failure (or skip reason), if any.
	Code    string
	Message string
}

// Inserted returns an INSERT result.
func Inserted(row int, source string, id int64) RowResult {
	return RowResult{Row: row, Source: source, Action: Insert, ID: id}
}

// Updated returns an UPDATE result.
func Updated(row int, source string, id int64) RowResult {
	return RowResult{Row: row, Source: source, Action: Update, ID: id}
}

// Deleted returns a DELETE result.
func Deleted(row int, source string, id int64) RowResult {
	return RowResult{Row: row, Source: source, Action: Delete, ID: id}
}

// Skipped returns a SKIP result with the reason in Message.
func Skipped(row int, source, reason string) RowResult {
	return RowResult{Row: row, Source: source, Action: Skip, Message: reason}
}

// Failed returns a FAILURE result. id may be 0 when the row never resolved to
// a remote entity.
func Failed(row int, source string, id int64, code, msg string) RowResult {
	return RowResult{Row: row, Source: source, Action: Failure, ID: id, Code: code, Message: msg}
}

func (r RowResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "row %d: %s", r.Row, r.Action)
	if r.ID != 0 {
		fmt.Fprintf(&b, " id=%d", r.ID)
	}
	if r.Code != "" {
		fmt.Fprintf(&b, " code=%s", r.Code)
	}
	if r.Message != "" {
		fmt.Fprintf(&b, ": %s", r.Message)
	}
	return b.String()
}

// Totals counts terminal results per action. All methods are safe for
// concurrent use.
type Totals struct {
	counts [numActions]atomic.Int64
}

// Add records one terminal result.
func (t *Totals) Add(a Action) {
	if a < 0 || a >= numActions {
		a = Failure
	}
	t.counts[a].Add(1)
}

// Get returns the current count for a.
func (t *Totals) Get(a Action) int64 {
	if a < 0 || a >= numActions {
		return 0
	}
	return t.counts[a].Load()
}

// Snapshot copies the current counters.
func (t *Totals) Snapshot() Snapshot {
	var s Snapshot
	for _, a := range Actions {
		s.counts[a] = t.counts[a].Load()
	}
	return s
}

// Snapshot is a point-in-time copy of Totals.
type Snapshot struct {
	counts [numActions]int64
}

// Get returns the count for a.
func (s Snapshot) Get(a Action) int64 {
	if a < 0 || a >= numActions {
		return 0
	}
	return s.counts[a]
}

// Total is the number of rows accounted for.
func (s Snapshot) Total() int64 {
	var n int64
	for _, c := range s.counts {
		n += c
	}
	return n
}

// Map returns the counts keyed by action name, for logging and notifications.
func (s Snapshot) Map() map[string]int64 {
	out := make(map[string]int64, len(Actions))
	for _, a := range Actions {
		out[a.String()] = s.counts[a]
	}
	return out
}

func (s Snapshot) String() string {
	return fmt.Sprintf("total=%d insert=%d update=%d delete=%d skip=%d failure=%d",
		s.Total(), s.counts[Insert], s.counts[Update], s.counts[Delete], s.counts[Skip], s.counts[Failure])
}
