package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CallError is any failure of a remote call: transport errors, non-success
// HTTP statuses and application error payloads alike.
type CallError struct {
	Op     Op
	Entity string
	// Status is the HTTP status code, when one was received.
	Status int
	// ChangeType is the write kind the remote reported (INSERT, UPDATE, ...).
	ChangeType string
	Messages   []Message
	Err        error
}

func (e *CallError) Error() string {
	if len(e.Messages) > 0 {
		change := e.ChangeType
		if change == "" {
			change = strings.ToUpper(string(e.Op))
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Error occurred when making %s REST call:", change)
		for _, m := range e.Messages {
			fmt.Fprintf(&b, "\n\tError occurred on field %s due to the following: %s", m.PropertyName, m.Detail)
		}
		return b.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "remote %s", e.Op)
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s", e.Entity)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// Denied reports whether the remote refused the call for lack of
// authorization.
func (e *CallError) Denied() bool {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return true
	}
	return e.mentions("dataloader administration") || e.mentions("not authorized")
}

// alreadyExists reports whether the failure is the remote refusing to add an
// association that is already in place.
func (e *CallError) alreadyExists() bool {
	return e.mentions("already exists")
}

func (e *CallError) mentions(s string) bool {
	if e.Err != nil && strings.Contains(strings.ToLower(e.Err.Error()), s) {
		return true
	}
	for _, m := range e.Messages {
		if strings.Contains(strings.ToLower(m.Detail), s) {
			return true
		}
	}
	return false
}

// PartialAssociationError reports an association call in which some chunks
// were applied before a later chunk failed. The applied chunks stay in
// effect.
type PartialAssociationError struct {
	Op       Op
	Entity   string
	ID       int64
	Relation string
	Applied  []int64
	Failed   []int64
	Err      error
}

func (e *PartialAssociationError) Error() string {
	return fmt.Sprintf("%s %s %d %s: %d of %d ids applied before failure: %v",
		e.Op, e.Entity, e.ID, e.Relation, len(e.Applied), len(e.Applied)+len(e.Failed), e.Err)
}

func (e *PartialAssociationError) Unwrap() error { return e.Err }

// IsDenied reports whether err is a CallError refused for authorization.
func IsDenied(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Denied()
}
