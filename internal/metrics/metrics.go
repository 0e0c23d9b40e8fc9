// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from a synchronization run.
//
// The package exposes a narrow Backend interface (counters and histograms)
// and a global, pluggable backend that defaults to a no-op implementation, so
// instrumented code is always safe to call even when no real backend is
// configured. Concrete systems live in subpackages (prompush, datadog).
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	RowsTotal           = "dataloader_rows_total"
	RemoteCallsTotal    = "dataloader_remote_calls_total"
	RemoteCallDuration  = "dataloader_remote_call_duration_seconds"
	CacheLookupsTotal   = "dataloader_cache_lookups_total"
	AssociationIDsTotal = "dataloader_association_ids_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordRow counts one terminal row result.
func RecordRow(job, action string) {
	current().IncCounter(RowsTotal, 1, Labels{
		"job":    job,
		"action": action,
	})
}

// RecordCall measures latency and success/failure of one remote call.
func RecordCall(job, op string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"op":     op,
		"status": status,
	}
	b := current()
	b.IncCounter(RemoteCallsTotal, 1, lbls)
	b.ObserveHistogram(RemoteCallDuration, d.Seconds(), lbls)
}

// RecordLookup counts one lookup cache access.
func RecordLookup(job string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	current().IncCounter(CacheLookupsTotal, 1, Labels{
		"job":    job,
		"result": result,
	})
}

// RecordAssociation counts identifiers added to or removed from a relation.
// direction is "add" or "remove".
func RecordAssociation(job, direction string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(AssociationIDsTotal, float64(n), Labels{
		"job":       job,
		"direction": direction,
	})
}
