// Package remote wraps the remote entity API behind a transport-neutral
// contract and adds the behavior the synchronization engine relies on:
// pagination of reads up to a safety ceiling, chunking of bulk association
// calls, conversion of error payloads into typed errors, and the external-id
// fast path with its run-wide authorization flag.
package remote

import (
	"context"

	"dataloader/internal/meta"
)

// Op names one remote operation.
type Op string

const (
	OpMeta         Op = "meta"
	OpSearch       Op = "search"
	OpQuery        Op = "query"
	OpInsert       Op = "insert"
	OpUpdate       Op = "update"
	OpDelete       Op = "delete"
	OpAssociations Op = "associations"
	OpAssociate    Op = "associate"
	OpDisassociate Op = "disassociate"
	OpByExternalID Op = "by_external_id"
	OpComplete     Op = "complete"
)

// Request carries the parameters of one call. Which fields are used depends
// on Op.
type Request struct {
	Op     Op
	Entity string
	ID     int64
	// Relation is the to-many field name for association calls.
	Relation string
	// IDs are association targets.
	IDs []int64
	// Filter is a search query or a where clause.
	Filter     string
	Fields     []string
	Start      int
	Count      int
	ExternalID string
	// Data is the body of insert, update and complete calls.
	Data map[string]any
}

// Message is one application-level error reported by the remote.
type Message struct {
	PropertyName string `json:"propertyName"`
	Severity     string `json:"severity"`
	Type         string `json:"type"`
	Detail       string `json:"detailMessage"`
}

// Response is the structured result of one call.
type Response struct {
	// Data holds the returned records.
	Data []map[string]any
	// Total is the total number of matches the remote reports for a read.
	Total int
	Start int
	Count int

	ChangedEntityID int64
	ChangeType      string
	Messages        []Message

	// Meta is set for OpMeta.
	Meta *meta.RawEntity
}

// Transport performs one remote call. Implementations convert transport
// failures into errors; application error payloads may be returned either
// as an error or in Response.Messages.
type Transport interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

func (f TransportFunc) Call(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
