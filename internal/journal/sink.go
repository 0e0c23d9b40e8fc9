package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dataloader/internal/record"
	"dataloader/internal/result"
)

// DefaultBatchSize is how many entries a Sink buffers before writing.
const DefaultBatchSize = 100

// Sink buffers row outcomes and writes them to a Journal in batches. It is
// safe for concurrent use.
type Sink struct {
	j         Journal
	runID     string
	job       string
	entity    string
	batchSize int

	mu    sync.Mutex
	batch []Entry
	total int64
}

// NewSink returns a Sink tagging entries with runID, job and entity.
func NewSink(j Journal, runID, job, entity string, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{j: j, runID: runID, job: job, entity: entity, batchSize: batchSize}
}

// Emit queues one outcome, writing the batch once it is full.
func (s *Sink) Emit(row record.Row, res result.RowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, Entry{
		RunID:       s.runID,
		Job:         s.job,
		Entity:      s.entity,
		Source:      row.Source,
		Row:         row.Number,
		Fingerprint: Fingerprint(row),
		Action:      res.Action,
		RemoteID:    res.ID,
		Code:        res.Code,
		Message:     res.Message,
		At:          time.Now().UTC(),
	})
	if len(s.batch) >= s.batchSize {
		return s.flushLocked()
	}
	return nil
}

// Close writes any buffered entries. It does not close the Journal.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Written returns how many entries reached the journal.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Sink) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.j.Record(context.Background(), s.batch); err != nil {
		n := len(s.batch)
		s.batch = s.batch[:0]
		return fmt.Errorf("journal: write %d entries: %w", n, err)
	}
	s.total += int64(len(s.batch))
	s.batch = s.batch[:0]
	return nil
}
