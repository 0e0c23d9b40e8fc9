package engine

import (
	"io"

	"dataloader/internal/record"
)

// RowStream is a single-pass source of rows. Next returns io.EOF once the
// input is exhausted and a *record.ReadError for a malformed record that can
// be skipped; any other error ends the run.
type RowStream interface {
	Next() (record.Row, error)
}

// SliceStream serves rows from memory.
type SliceStream struct {
	rows []record.Row
	i    int
}

// NewSliceStream returns a stream over rows.
func NewSliceStream(rows ...record.Row) *SliceStream {
	return &SliceStream{rows: rows}
}

func (s *SliceStream) Next() (record.Row, error) {
	if s.i >= len(s.rows) {
		return record.Row{}, io.EOF
	}
	r := s.rows[s.i]
	s.i++
	return r, nil
}
