package task

import (
	"errors"
	"fmt"
	"strings"

	"dataloader/internal/meta"
	"dataloader/internal/record"
	"dataloader/internal/remote"
	"dataloader/internal/result"
)

var (
	// ErrNotFound is wrapped when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is wrapped when the entity type lacks the capability a
	// row needs.
	ErrUnsupported = errors.New("operation not supported")
)

// AmbiguousMatchError reports more than one existing entity matching a row's
// lookup criteria.
type AmbiguousMatchError struct {
	Entity   string
	Count    int
	Criteria string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("Multiple Records Exist. Found %d %s records with the same ExistField criteria of: %s", e.Count, e.Entity, e.Criteria)
}

// MissingAssociationError reports to-many values that name no existing
// target.
type MissingAssociationError struct {
	Relation string
	Target   string
	Field    string
	Missing  []string
}

func (e *MissingAssociationError) Error() string {
	return fmt.Sprintf("%s: %s records with %s [%s] do not exist", e.Relation, e.Target, e.Field, strings.Join(e.Missing, ", "))
}

func (e *MissingAssociationError) Unwrap() error { return ErrNotFound }

// Code classifies err into a result code.
func Code(err error) string {
	var (
		se *meta.SchemaError
		me *record.MappingError
		ae *AmbiguousMatchError
		pe *remote.PartialAssociationError
		ce *remote.CallError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return result.CodeSchema
	case errors.As(err, &me):
		return result.CodeMapping
	case errors.As(err, &ae):
		return result.CodeAmbiguousMatch
	case errors.As(err, &pe):
		return result.CodePartialAssociation
	case errors.Is(err, ErrNotFound):
		return result.CodeNotFound
	case errors.Is(err, ErrUnsupported):
		return result.CodeUnsupported
	case errors.As(err, &ce):
		return result.CodeRemoteCall
	default:
		return result.CodeInternal
	}
}
