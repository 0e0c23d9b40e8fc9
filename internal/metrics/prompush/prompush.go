// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A synchronization run is a batch job with no long-lived HTTP listener, so
// collected metrics are pushed to a Pushgateway at the end of the run instead
// of being scraped. All Prometheus-specific dependencies stay in this package.
package prompush

import (
	"fmt"

	"dataloader/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	rowCounter    *prometheus.CounterVec // dataloader_rows_total{action}
	callCounter   *prometheus.CounterVec // dataloader_remote_calls_total{op,status}
	callDuration  *prometheus.SummaryVec // dataloader_remote_call_duration_seconds{op,status}
	lookupCounter *prometheus.CounterVec // dataloader_cache_lookups_total{result}
	assocCounter  *prometheus.CounterVec // dataloader_association_ids_total{direction}
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (often the run's job).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "dataloader"
	}

	reg := prometheus.NewRegistry()

	// The job label is the Pushgateway grouping key, so it is not repeated
	// as a metric label.
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows processed, partitioned by terminal action.",
		},
		[]string{"action"},
	)
	callCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RemoteCallsTotal,
			Help: "Remote API calls, partitioned by operation and status.",
		},
		[]string{"op", "status"},
	)
	callDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.RemoteCallDuration,
			Help:       "Duration of remote API calls in seconds, partitioned by operation and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"op", "status"},
	)
	lookupCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.CacheLookupsTotal,
			Help: "Lookup cache accesses, partitioned by hit or miss.",
		},
		[]string{"result"},
	)
	assocCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.AssociationIDsTotal,
			Help: "Association identifiers added or removed.",
		},
		[]string{"direction"},
	)

	for _, c := range []struct {
		what string
		c    prometheus.Collector
	}{
		{"row counter", rowCounter},
		{"call counter", callCounter},
		{"call summary", callDuration},
		{"lookup counter", lookupCounter},
		{"association counter", assocCounter},
	} {
		if err := reg.Register(c.c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", c.what, err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		rowCounter:    rowCounter,
		callCounter:   callCounter,
		callDuration:  callDuration,
		lookupCounter: lookupCounter,
		assocCounter:  assocCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["action"]).Add(delta)
		}
	case metrics.RemoteCallsTotal:
		if b.callCounter != nil {
			b.callCounter.WithLabelValues(labels["op"], labels["status"]).Add(delta)
		}
	case metrics.CacheLookupsTotal:
		if b.lookupCounter != nil {
			b.lookupCounter.WithLabelValues(labels["result"]).Add(delta)
		}
	case metrics.AssociationIDsTotal:
		if b.assocCounter != nil {
			b.assocCounter.WithLabelValues(labels["direction"]).Add(delta)
		}
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.RemoteCallDuration || b.callDuration == nil {
		return
	}
	b.callDuration.WithLabelValues(labels["op"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
