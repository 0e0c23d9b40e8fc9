package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dataloader/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// readCounterValue reads the current value of a Counter for assertions in tests.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

// readSummaryCountSum reads sample count and sum from a SummaryVec.
func readSummaryCountSum(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	sum := m.GetSummary()
	if sum == nil {
		t.Fatalf("metric did not contain Summary value")
	}
	return sum.GetSampleCount(), sum.GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL returns error", jobName: "job", wantErr: true},
		{name: "empty job name uses default", gatewayURL: "http://pushgateway:9091", wantJobName: "dataloader"},
		{name: "explicit job name is preserved", jobName: "candidates", gatewayURL: "http://pushgateway:9091", wantJobName: "candidates"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL)
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend(%q, %q) = %v, %v; want nil, error", tt.jobName, tt.gatewayURL, b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend(%q, %q) error = %v", tt.jobName, tt.gatewayURL, err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("backend.jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
			if b.rowCounter == nil || b.callCounter == nil || b.callDuration == nil || b.lookupCounter == nil || b.assocCounter == nil {
				t.Fatalf("collectors not initialized: %+v", b)
			}
		})
	}
}

func TestIncCounter_Routing(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("job", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"job": "job", "action": "INSERT"})
	b.IncCounter(metrics.RemoteCallsTotal, 1, metrics.Labels{"op": "search", "status": "success"})
	b.IncCounter(metrics.CacheLookupsTotal, 3, metrics.Labels{"result": "hit"})
	b.IncCounter(metrics.AssociationIDsTotal, 4, metrics.Labels{"direction": "remove"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"foo": "bar"})

	if got := readCounterValue(t, b.rowCounter.WithLabelValues("INSERT")); got != 2 {
		t.Fatalf("rows INSERT = %v, want 2", got)
	}
	if got := readCounterValue(t, b.callCounter.WithLabelValues("search", "success")); got != 1 {
		t.Fatalf("calls search/success = %v, want 1", got)
	}
	if got := readCounterValue(t, b.lookupCounter.WithLabelValues("hit")); got != 3 {
		t.Fatalf("lookups hit = %v, want 3", got)
	}
	if got := readCounterValue(t, b.assocCounter.WithLabelValues("remove")); got != 4 {
		t.Fatalf("association remove = %v, want 4", got)
	}
}

func TestIncCounterNilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{} // zero-value backend with nil collectors

	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"action": "SKIP"})
	b.IncCounter(metrics.RemoteCallsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.CacheLookupsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.AssociationIDsTotal, 1, metrics.Labels{})
	b.ObserveHistogram(metrics.RemoteCallDuration, 1, metrics.Labels{})
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("job", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.ObserveHistogram(metrics.RemoteCallDuration, 1.5, metrics.Labels{"op": "insert", "status": "failure"})
	b.ObserveHistogram("other_metric", 2.0, metrics.Labels{"op": "insert", "status": "failure"})

	count, sum := readSummaryCountSum(t, b.callDuration, "insert", "failure")
	if count != 1 || sum != 1.5 {
		t.Fatalf("summary count/sum = %d/%v, want 1/1.5", count, sum)
	}
}

// TestFlush verifies that Flush pushes the registry to the configured
// Pushgateway URL.
func TestFlush(t *testing.T) {
	t.Parallel()

	type pushRequestInfo struct {
		method  string
		path    string
		bodyLen int
	}
	reqCh := make(chan pushRequestInfo, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushRequestInfo{method: r.Method, path: r.URL.Path, bodyLen: len(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("candidates", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"action": "UPDATE"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got pushRequestInfo
	select {
	case got = <-reqCh:
	default:
		t.Fatalf("Flush() did not result in any HTTP request to the Pushgateway")
	}
	if got.method != http.MethodPut {
		t.Fatalf("push method = %q, want PUT", got.method)
	}
	if got.path != "/metrics/job/candidates" {
		t.Fatalf("push path = %q, want /metrics/job/candidates", got.path)
	}
	if got.bodyLen == 0 {
		t.Fatalf("push request body length = 0, want > 0")
	}
}

// BenchmarkIncCounterRow measures the cost of counting one row through the
// Backend abstraction.
func BenchmarkIncCounterRow(b *testing.B) {
	backend, err := NewBackend("job", "http://example.com")
	if err != nil {
		b.Fatalf("NewBackend() error = %v", err)
	}
	labels := metrics.Labels{"action": "INSERT"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.RowsTotal, 1, labels)
	}
}
