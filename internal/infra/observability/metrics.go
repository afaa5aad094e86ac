package observability

import (
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	lifecycleActions *prometheus.CounterVec
	partialFailures  *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	subscribers      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		lifecycleActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_lifecycle_actions_total",
				Help: "Lifecycle actions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		partialFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_partial_failures_total",
				Help: "Multi-step actions that stopped after the provider call succeeded.",
			},
			[]string{"stage"},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_reconciliation_anomalies_total",
				Help: "Disallowed status transitions observed while reconciling.",
			},
			[]string{"from", "to"},
		),
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_provider_calls_total",
				Help: "eSIM provider calls by operation and result.",
			},
			[]string{"operation", "result"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_live_update_subscribers",
				Help: "Open live-update subscriptions.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrLifecycleAction counts an assign/cancel/auto-renew attempt by outcome.
func (m *Metrics) IncrLifecycleAction(action, outcome string) {
	m.lifecycleActions.WithLabelValues(action, outcome).Inc()
}

// IncrPartialFailure counts an action left half-done at the given stage.
func (m *Metrics) IncrPartialFailure(stage string) {
	m.partialFailures.WithLabelValues(stage).Inc()
}

// IncrAnomaly counts a disallowed transition.
func (m *Metrics) IncrAnomaly(from, to domain.EsimStatus) {
	m.anomalies.WithLabelValues(string(from), string(to)).Inc()
}

// IncrProviderCall counts a provider call; result is "ok" or "error".
func (m *Metrics) IncrProviderCall(operation, result string) {
	m.providerCalls.WithLabelValues(operation, result).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// AddSubscribers moves the live-update subscriber gauge by delta.
func (m *Metrics) AddSubscribers(delta int) {
	m.subscribers.Add(float64(delta))
}

// GetLifecycleSnapshot returns the counters behind GET /api/admin/lifecycle-stats.
func (m *Metrics) GetLifecycleSnapshot() *domain.LifecycleStats {
	// Prometheus counters expose cumulative values.
	providerOK := sumCounters(m.providerCalls, func(l map[string]string) bool { return l["result"] == "ok" })
	providerErr := sumCounters(m.providerCalls, func(l map[string]string) bool { return l["result"] == "error" })

	errorRate := float64(0)
	if providerOK+providerErr > 0 {
		errorRate = providerErr / (providerOK + providerErr)
	}

	return &domain.LifecycleStats{
		Assigned:          int64(getCounterValue(m.lifecycleActions, "assign", "ok")),
		AssignFailures:    int64(sumCounters(m.lifecycleActions, func(l map[string]string) bool { return l["action"] == "assign" && l["outcome"] != "ok" })),
		Cancelled:         int64(getCounterValue(m.lifecycleActions, "cancel", "ok")),
		CancelRejected:    int64(getCounterValue(m.lifecycleActions, "cancel", "rejected")),
		AutoRenewToggles:  int64(getCounterValue(m.lifecycleActions, "auto_renew", "ok")),
		PartialFailures:   int64(sumCounters(m.partialFailures, nil)),
		Anomalies:         int64(sumCounters(m.anomalies, nil)),
		ProviderErrorRate: errorRate,
		LiveSubscribers:   int64(gaugeValue(m.subscribers)),
		Period:            "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounters adds every series of cv whose labels pass keep (all of them when keep is nil).
func sumCounters(cv *prometheus.CounterVec, keep func(map[string]string) bool) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		labels := make(map[string]string, len(m.Label))
		for _, lp := range m.Label {
			labels[lp.GetName()] = lp.GetValue()
		}
		if keep == nil || keep(labels) {
			total += m.Counter.GetValue()
		}
	}
	return total
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}
