package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"dataloader/internal/record"
	"dataloader/internal/result"
)

// Sink receives every completed row with its result. Emit may be called from
// several workers at once; Close is called once after the last Emit.
type Sink interface {
	Emit(row record.Row, res result.RowResult) error
	Close() error
}

// FuncSink adapts a callback to Sink.
type FuncSink func(row record.Row, res result.RowResult) error

func (f FuncSink) Emit(row record.Row, res result.RowResult) error { return f(row, res) }
func (f FuncSink) Close() error                                      { return nil }

// CSVSink writes successful and skipped rows to one writer and failed rows to
// another. Each output repeats the row's original columns followed by id,
// action and reason. The header is taken from the first row written.
type CSVSink struct {
	mu      sync.Mutex
	success *csvOut
	failure *csvOut
	closers []io.Closer
}

type csvOut struct {
	w      *csv.Writer
	header bool
}

// NewCSVSink writes to success and failure. The caller owns both writers.
func NewCSVSink(success, failure io.Writer) *CSVSink {
	return &CSVSink{
		success: &csvOut{w: csv.NewWriter(success)},
		failure: &csvOut{w: csv.NewWriter(failure)},
	}
}

// CreateCSVSink creates <prefix>success.csv and <prefix>failure.csv in dir.
// Close closes both files.
func CreateCSVSink(dir, prefix string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("result dir: %w", err)
	}
	sf, err := os.Create(filepath.Join(dir, prefix+"success.csv"))
	if err != nil {
		return nil, fmt.Errorf("create success file: %w", err)
	}
	ff, err := os.Create(filepath.Join(dir, prefix+"failure.csv"))
	if err != nil {
		sf.Close()
		return nil, fmt.Errorf("create failure file: %w", err)
	}
	s := NewCSVSink(sf, ff)
	s.closers = []io.Closer{sf, ff}
	return s, nil
}

func (s *CSVSink) Emit(row record.Row, res result.RowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.success
	if res.Action == result.Failure {
		out = s.failure
	}
	if !out.header {
		if err := out.w.Write(append(row.Names(), "id", "action", "reason")); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		out.header = true
	}
	id := ""
	if res.ID != 0 {
		id = strconv.FormatInt(res.ID, 10)
	}
	if err := out.w.Write(append(row.Values(), id, res.Action.String(), res.Message)); err != nil {
		return fmt.Errorf("write row %d: %w", row.Number, err)
	}
	return nil
}

// Close flushes both writers and closes any files the sink created.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, out := range []*csvOut{s.success, s.failure} {
		out.w.Flush()
		if err := out.w.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
