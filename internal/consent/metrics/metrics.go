package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent decisions.
type Metrics struct {
	BannersShown    prometheus.Counter
	Decisions       *prometheus.CounterVec
	Activations     *prometheus.CounterVec
	StorageFailures *prometheus.CounterVec
	RenderFailures  prometheus.Counter
	Resets          prometheus.Counter
	StoreFallback   *prometheus.GaugeVec

	StoreOperationLatency *prometheus.HistogramVec
}

// New registers consent collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers consent collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BannersShown: factory.NewCounter(prometheus.CounterOpts{
			Name: "consentkit_banners_shown_total",
			Help: "Total number of page loads that presented the consent banner",
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentkit_decisions_total",
			Help: "Total number of consent decisions, labeled by outcome",
		}, []string{"outcome"}),
		Activations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentkit_activations_total",
			Help: "Total number of category activations, labeled by category and result",
		}, []string{"category", "result"}),
		StorageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentkit_storage_failures_total",
			Help: "Total number of consent storage failures, labeled by operation",
		}, []string{"operation"}),
		RenderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "consentkit_render_failures_total",
			Help: "Total number of consent UI renders that could not be mounted",
		}),
		Resets: factory.NewCounter(prometheus.CounterOpts{
			Name: "consentkit_resets_total",
			Help: "Total number of consent resets",
		}),
		StoreFallback: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "consentkit_store_fallback_active",
			Help: "1 while a shared consent store's circuit is open and records go to the cookie",
		}, []string{"breaker"}),
		StoreOperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentkit_store_operation_latency_seconds",
			Help:    "Latency of consent store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementBannersShown() {
	m.BannersShown.Inc()
}

func (m *Metrics) IncrementDecisions(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}

// IncrementActivations counts one activation attempt; ok reports whether its loaders succeeded.
func (m *Metrics) IncrementActivations(category string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Activations.WithLabelValues(category, result).Inc()
}

func (m *Metrics) IncrementStorageFailures(operation string) {
	m.StorageFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementRenderFailures() {
	m.RenderFailures.Inc()
}

func (m *Metrics) IncrementResets() {
	m.Resets.Inc()
}

// SetStoreFallback records whether the named breaker has diverted records to the fallback.
func (m *Metrics) SetStoreFallback(breaker string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.StoreFallback.WithLabelValues(breaker).Set(v)
}

// ObserveStoreOperationLatency records the latency of a store operation.
func (m *Metrics) ObserveStoreOperationLatency(operation string, durationSeconds float64) {
	m.StoreOperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}
