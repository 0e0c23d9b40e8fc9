// Package datasource abstracts where input bytes come from.
package datasource

import (
	"context"
	"io"
)

// Source opens the input for one run. Name identifies the input in row
// results and the journal, so it must be stable across runs of the same
// input.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}
