package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.EventsIngested == nil || m.Batches == nil || m.IngestLatency == nil {
		t.Fatal("instruments should not be nil")
	}

	// A second engine on its own registry must not collide.
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordBatch(OutcomeAccepted, 5*time.Millisecond)
	m.RecordBatch(OutcomeAccepted, 7*time.Millisecond)
	m.RecordBatch(OutcomeDuplicate, time.Millisecond)

	if got := testutil.ToFloat64(m.Batches.WithLabelValues(OutcomeAccepted)); got != 2 {
		t.Fatalf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Batches.WithLabelValues(OutcomeDuplicate)); got != 1 {
		t.Fatalf("duplicate = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "rewind_ingest_latency_seconds" {
			if c := f.GetMetric()[0].GetHistogram().GetSampleCount(); c != 3 {
				t.Fatalf("latency samples = %d, want 3", c)
			}
			return
		}
	}
	t.Fatal("rewind_ingest_latency_seconds not found")
}

func TestRecordEventsAndQuarantine(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEvents(map[string]int{"MouseClick": 3, "Scroll": 2})
	m.RecordQuarantined("schema", 4)
	m.RecordQuarantined("catalog", 0)

	if got := testutil.ToFloat64(m.EventsIngested.WithLabelValues("MouseClick")); got != 3 {
		t.Fatalf("MouseClick = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.EventsQuarantined.WithLabelValues("schema")); got != 4 {
		t.Fatalf("schema = %v, want 4", got)
	}
	if got := testutil.CollectAndCount(m.EventsQuarantined); got != 1 {
		t.Fatalf("quarantine series = %d, want 1", got)
	}
}
