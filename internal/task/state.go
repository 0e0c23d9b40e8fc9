package task

import "fmt"

// State is a row task's position in its lifecycle.
type State int

const (
	StateStart State = iota
	StateMapped
	StateFound
	StateNotFound
	StateUpdated
	StateCreated
	StateDeleted
	StateReconciled
	StateReported
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateMapped:
		return "MAPPED"
	case StateFound:
		return "FOUND"
	case StateNotFound:
		return "NOT_FOUND"
	case StateUpdated:
		return "UPDATED"
	case StateCreated:
		return "CREATED"
	case StateDeleted:
		return "DELETED"
	case StateReconciled:
		return "ASSOCIATIONS_RECONCILED"
	case StateReported:
		return "REPORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// machine tracks one row's state. It is owned by a single goroutine.
type machine struct {
	cur   State
	trace []State
}

func newMachine() *machine {
	return &machine{cur: StateStart, trace: []State{StateStart}}
}

// to moves to next, failing on a transition the lifecycle does not allow.
func (m *machine) to(next State) error {
	if !isAllowedTransition(m.cur, next) {
		return fmt.Errorf("task: disallowed transition %s -> %s", m.cur, next)
	}
	m.cur = next
	m.trace = append(m.trace, next)
	return nil
}

// report moves to the terminal state from wherever the task stopped.
func (m *machine) report() {
	if m.cur != StateReported {
		m.cur = StateReported
		m.trace = append(m.trace, StateReported)
	}
}

func isAllowedTransition(from, to State) bool {
	if to == StateReported {
		return from != StateReported
	}
	switch from {
	case StateStart:
		return to == StateMapped
	case StateMapped:
		return to == StateFound || to == StateNotFound
	case StateFound:
		return to == StateUpdated || to == StateDeleted
	case StateNotFound:
		return to == StateCreated
	case StateUpdated, StateCreated:
		return to == StateReconciled
	default:
		return false
	}
}
