package klatch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request modes used as the "mode" label.
const (
	modeBuffered = "buffered"
	modeStream   = "stream"
)

// MetricsCollector exports the request lifecycle as Prometheus metrics. A
// nil *MetricsCollector is valid and records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	deduplicationHits *prometheus.CounterVec

	streamChunks *prometheus.CounterVec
	tokensTotal  *prometheus.CounterVec

	circuitBreakerState prometheus.Gauge
	rateLimiterTokens   prometheus.Gauge

	errorsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetricsCollector registers the collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry registers the collector on registry.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)

	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_requests_total",
				Help: "Total number of chat requests by outcome",
			},
			[]string{"mode", "model", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "klatch_request_duration_seconds",
				Help:    "End-to-end latency of chat requests in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode", "model"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "klatch_requests_in_flight",
				Help: "Number of chat requests currently being served",
			},
			[]string{"mode"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_retries_total",
				Help: "Total number of retries scheduled after a failed attempt",
			},
			[]string{"model", "attempt"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_cache_hits_total",
				Help: "Total number of result cache hits",
			},
			[]string{"model"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_cache_misses_total",
				Help: "Total number of result cache misses",
			},
			[]string{"model"},
		),
		cacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "klatch_cache_entries",
				Help: "Current number of entries in the result cache",
			},
		),
		deduplicationHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_deduplication_hits_total",
				Help: "Total number of requests served by joining an in-flight request",
			},
			[]string{"model"},
		),
		streamChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_stream_chunks_total",
				Help: "Total number of content deltas delivered to streaming callers",
			},
			[]string{"model"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_tokens_total",
				Help: "Total number of tokens reported by providers",
			},
			[]string{"model"},
		),
		circuitBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "klatch_circuit_breaker_state",
				Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
			},
		),
		rateLimiterTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "klatch_rate_limiter_tokens",
				Help: "Rate limiter tokens available after the last attempt was admitted",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klatch_errors_total",
				Help: "Total number of failed chat requests by error type",
			},
			[]string{"type", "mode"},
		),
	}
	if g, ok := registry.(prometheus.Gatherer); ok {
		mc.gatherer = g
	}
	return mc
}

// RecordRequest counts a finished request and observes its latency.
func (mc *MetricsCollector) RecordRequest(mode, model, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(mode, model, outcome).Inc()
	mc.requestDuration.WithLabelValues(mode, model).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(mode string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(mode).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(mode string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(mode).Dec()
}

// RecordRetry counts a retry scheduled after the given failed attempt.
func (mc *MetricsCollector) RecordRetry(model string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(model, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(model string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(model).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(model string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(model).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.Set(float64(size))
}

// RecordDeduplicationHit increments the deduplication counter.
func (mc *MetricsCollector) RecordDeduplicationHit(model string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(model).Inc()
}

// RecordStreamChunk counts one delivered delta.
func (mc *MetricsCollector) RecordStreamChunk(model string) {
	if mc == nil {
		return
	}
	mc.streamChunks.WithLabelValues(model).Inc()
}

// RecordTokens adds a provider-reported token count.
func (mc *MetricsCollector) RecordTokens(model string, tokens *int) {
	if mc == nil || tokens == nil || *tokens <= 0 {
		return
	}
	mc.tokensTotal.WithLabelValues(model).Add(float64(*tokens))
}

// RecordCircuitBreakerState sets the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.Set(float64(state))
}

// RecordRateLimiterTokens sets the available token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(tokens float64) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.Set(tokens)
}

// RecordError counts a failed request by error type.
func (mc *MetricsCollector) RecordError(errorType, mode string) {
	if mc == nil {
		return
	}
	if errorType == "" {
		errorType = "Unknown"
	}
	mc.errorsTotal.WithLabelValues(errorType, mode).Inc()
}

// Gatherer returns the registry the collector was registered on, when it
// can be gathered from.
func (mc *MetricsCollector) Gatherer() prometheus.Gatherer {
	if mc == nil {
		return nil
	}
	return mc.gatherer
}
