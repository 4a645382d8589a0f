package klatch

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	TotalRequests     int64
	CacheHits         int64
	CacheMisses       int64
	DedupHits         int64
	Retries           int64
	Failures          int64
	Cancellations     int64
	CumulativeLatency time.Duration
	CacheSize         int
	InFlight          int
}

// AverageLatency returns CumulativeLatency / TotalRequests.
func (s Stats) AverageLatency() time.Duration {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.CumulativeLatency / time.Duration(s.TotalRequests)
}

// CacheHitRate returns hits / (hits + misses) in [0, 1].
func (s Stats) CacheHitRate() float64 {
	lookups := s.CacheHits + s.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(lookups)
}

// statsRecorder holds the monotonic counters behind Stats.
type statsRecorder struct {
	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	dedupHits     atomic.Int64
	retries       atomic.Int64
	failures      atomic.Int64
	cancellations atomic.Int64
	latencyNanos  atomic.Int64
}

func (r *statsRecorder) snapshot() Stats {
	return Stats{
		TotalRequests:     r.totalRequests.Load(),
		CacheHits:         r.cacheHits.Load(),
		CacheMisses:       r.cacheMisses.Load(),
		DedupHits:         r.dedupHits.Load(),
		Retries:           r.retries.Load(),
		Failures:          r.failures.Load(),
		Cancellations:     r.cancellations.Load(),
		CumulativeLatency: time.Duration(r.latencyNanos.Load()),
	}
}
