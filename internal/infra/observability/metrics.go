package observability

import (
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Error kinds recorded against bfa_upstream_errors_total.
const (
	ErrKindAPI     = "api"
	ErrKindAuth    = "auth"
	ErrKindNetwork = "network"
	ErrKindTimeout = "timeout"
	ErrKindCircuit = "circuit_open"
)

// Breaker names, used as the breaker label.
const (
	BreakerMarket = "market"
	BreakerRelay  = "relay-forward"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	upstreamDuration *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec
	tokenAcquired    *prometheus.CounterVec
	tokenRetries     prometheus.Counter
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	relayOutcomes    *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_upstream_request_duration_seconds",
				Help:    "Duration of marketplace API calls by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_upstream_requests_total",
				Help: "Total marketplace API calls by endpoint.",
			},
			[]string{"endpoint"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_upstream_errors_total",
				Help: "Total failed marketplace API calls by error kind.",
			},
			[]string{"kind"},
		),
		tokenAcquired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_token_acquisitions_total",
				Help: "OAuth2 token acquisitions by outcome.",
			},
			[]string{"outcome"},
		),
		tokenRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_unauthorized_retries_total",
				Help: "Requests re-issued after a 401 and a token refresh.",
			},
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
		relayOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_relay_callbacks_total",
				Help: "Payment callbacks by outcome.",
			},
			[]string{"outcome"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bfa_circuit_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			},
			[]string{"breaker"},
		),
	}
}

// RecordUpstream records one marketplace call.
func (m *Metrics) RecordUpstream(endpoint string, d time.Duration) {
	m.upstreamRequests.WithLabelValues(endpoint).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncrUpstreamError increments the upstream error counter.
func (m *Metrics) IncrUpstreamError(kind string) {
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// IncrTokenAcquisition counts a token acquisition ("success" or "failure").
func (m *Metrics) IncrTokenAcquisition(outcome string) {
	m.tokenAcquired.WithLabelValues(outcome).Inc()
}

// IncrUnauthorizedRetry counts a 401-triggered retry.
func (m *Metrics) IncrUnauthorizedRetry() {
	m.tokenRetries.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrRelay counts a payment callback outcome ("forwarded", "duplicate", "in_flight",
// "rejected", "failed").
func (m *Metrics) IncrRelay(outcome string) {
	m.relayOutcomes.WithLabelValues(outcome).Inc()
}

// BreakerListener returns a transition hook for resilience.NewCircuitBreaker
// that updates bfa_circuit_breaker_state and logs the change.
func (m *Metrics) BreakerListener(logger *zap.Logger) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		m.breakerState.WithLabelValues(name).Set(float64(to))
		log := logger.Info
		if to == gobreaker.StateOpen {
			log = logger.Warn
		}
		log("circuit breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}

// BreakerOpen reports whether the last recorded state for name is open.
func (m *Metrics) BreakerOpen(name string) bool {
	g := &dto.Metric{}
	if err := m.breakerState.WithLabelValues(name).Write(g); err != nil || g.Gauge == nil {
		return false
	}
	return gobreaker.State(g.Gauge.GetValue()) == gobreaker.StateOpen
}

// Snapshot returns the counters behind GET /v1/metrics/market.
func (m *Metrics) Snapshot() *domain.MarketMetrics {
	requests := sumCounterVec(m.upstreamRequests)
	errors := sumCounterVec(m.upstreamErrors)
	hits := sumCounterVec(m.cacheHits)
	misses := sumCounterVec(m.cacheMisses)

	errorRate := float64(0)
	cacheHitRate := float64(0)
	if requests > 0 {
		errorRate = errors / requests
	}
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.MarketMetrics{
		UpstreamRequests: int64(requests),
		UpstreamErrors:   int64(errors),
		ErrorRate:        errorRate,
		TokenRefreshes:   int64(getCounterValue(m.tokenAcquired, "success")),
		TokenFailures:    int64(getCounterValue(m.tokenAcquired, "failure")),
		CacheHitRate:     cacheHitRate,
		RelayForwarded:   int64(getCounterValue(m.relayOutcomes, "forwarded")),
		RelayRejected:    int64(getCounterValue(m.relayOutcomes, "rejected")),
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every label combination of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}
