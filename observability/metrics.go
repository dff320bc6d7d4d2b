package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcomes recorded by RecordBatch.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeLimited   = "rate_limited"
	OutcomeDisabled  = "disabled"
)

// Metrics holds the prometheus instruments for Rewind. Instruments are
// registered on the Registerer passed to NewMetrics, so several engines can
// share a process without colliding on the default registry.
type Metrics struct {
	EventsIngested     *prometheus.CounterVec
	Batches            *prometheus.CounterVec
	EventsQuarantined  *prometheus.CounterVec
	IngestLatency      prometheus.Histogram
	SessionsStarted    prometheus.Counter
	SessionsClosed     *prometheus.CounterVec
	RageClicksDetected prometheus.Counter
	ErrorGroupsTouched prometheus.Counter
	LiveSubscribers    prometheus.Gauge
}

// NewMetrics creates and registers Rewind metric instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_events_ingested_total",
			Help: "Events appended to session streams, by event type",
		}, []string{"type"}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_batches_total",
			Help: "Ingested batches, by outcome",
		}, []string{"outcome"}),
		EventsQuarantined: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_events_quarantined_total",
			Help: "Events diverted to quarantine, by reason",
		}, []string{"reason"}),
		IngestLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewind_ingest_latency_seconds",
			Help:    "Time spent ingesting one batch",
			Buckets: prometheus.DefBuckets,
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "rewind_sessions_started_total",
			Help: "Sessions created by ingestion",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_sessions_closed_total",
			Help: "Sessions closed, by cause",
		}, []string{"cause"}),
		RageClicksDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "rewind_rage_clicks_detected_total",
			Help: "Sessions flagged with rage clicks during ingestion",
		}),
		ErrorGroupsTouched: f.NewCounter(prometheus.CounterOpts{
			Name: "rewind_error_groups_touched_total",
			Help: "Error group upserts performed during ingestion",
		}),
		LiveSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "rewind_live_subscribers",
			Help: "Open live-tail subscriptions",
		}),
	}
}

// RecordBatch records one ingestion outcome and its latency.
func (m *Metrics) RecordBatch(outcome string, latency time.Duration) {
	m.Batches.WithLabelValues(outcome).Inc()
	m.IngestLatency.Observe(latency.Seconds())
}

// RecordEvents counts appended events by type name.
func (m *Metrics) RecordEvents(counts map[string]int) {
	for typ, n := range counts {
		m.EventsIngested.WithLabelValues(typ).Add(float64(n))
	}
}

// RecordQuarantined counts events diverted to quarantine.
func (m *Metrics) RecordQuarantined(reason string, n int) {
	if n > 0 {
		m.EventsQuarantined.WithLabelValues(reason).Add(float64(n))
	}
}
