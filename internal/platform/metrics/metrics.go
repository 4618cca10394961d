package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared across the service. All
// methods are nil-safe so packages can be constructed without metrics in tests.
type Metrics struct {
	RequestLatency     *prometheus.HistogramVec
	Logins             *prometheus.CounterVec
	ReceiptTransitions *prometheus.CounterVec
	VerifierOutcomes   *prometheus.CounterVec
	VerifierLatency    *prometheus.HistogramVec
	EventFailures      *prometheus.CounterVec
	StorageBackend     *prometheus.GaugeVec
}

// New creates and registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipay_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipay_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}), // outcome: "success", "rejected", "error"

		ReceiptTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipay_receipt_transitions_total",
			Help: "Receipt state transitions by resulting status",
		}, []string{"status"}),

		VerifierOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipay_verifier_outcomes_total",
			Help: "External verification outcomes by verifier and source",
		}, []string{"verifier", "outcome"}),

		VerifierLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipay_verifier_duration_seconds",
			Help:    "Latency of external provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"verifier"}),

		EventFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipay_event_publish_failures_total",
			Help: "Domain events that could not be published",
		}, []string{"type"}),

		StorageBackend: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipay_storage_backend_info",
			Help: "Active persistence backend (value is always 1)",
		}, []string{"backend"}),
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}

// IncrementLogin records a login outcome.
func (m *Metrics) IncrementLogin(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

// IncrementTransition records a receipt reaching status.
func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.ReceiptTransitions.WithLabelValues(status).Inc()
	}
}

// IncrementVerifierOutcome records how a verification was decided.
func (m *Metrics) IncrementVerifierOutcome(verifier, outcome string) {
	if m != nil {
		m.VerifierOutcomes.WithLabelValues(verifier, outcome).Inc()
	}
}

// ObserveVerifierLatency records the duration of a provider call.
func (m *Metrics) ObserveVerifierLatency(verifier string, d time.Duration) {
	if m != nil {
		m.VerifierLatency.WithLabelValues(verifier).Observe(d.Seconds())
	}
}

// IncrementEventFailure records a dropped event.
func (m *Metrics) IncrementEventFailure(eventType string) {
	if m != nil {
		m.EventFailures.WithLabelValues(eventType).Inc()
	}
}

// SetStorageBackend marks the active persistence backend.
func (m *Metrics) SetStorageBackend(backend string) {
	if m != nil {
		m.StorageBackend.Reset()
		m.StorageBackend.WithLabelValues(backend).Set(1)
	}
}
