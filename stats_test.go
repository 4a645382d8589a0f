package klatch

import (
	"testing"
	"time"
)

func TestStatsDerivedValues(t *testing.T) {
	var empty Stats
	if empty.AverageLatency() != 0 || empty.CacheHitRate() != 0 {
		t.Error("Expected zero derived values for empty stats")
	}

	s := Stats{TotalRequests: 4, CumulativeLatency: 2 * time.Second, CacheHits: 3, CacheMisses: 1}
	if s.AverageLatency() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", s.AverageLatency())
	}
	if s.CacheHitRate() != 0.75 {
		t.Errorf("Expected 0.75, got %v", s.CacheHitRate())
	}
}

func TestStatsLatencyUsesClock(t *testing.T) {
	clock := newFakeClock()
	transport := newScriptedTransport(step{err: transientErr("network timeout")}, step{text: "ok"})
	client := newTestClient(transport, clock)

	res, err := client.Send(t.Context(), userTurns("q"), zeroTemp)
	if err != nil {
		t.Fatalf(unexpectedErrMsg, err)
	}
	// the fake clock advances by the 500ms backoff
	if res.Latency != 500*time.Millisecond {
		t.Errorf("Expected latency 500ms, got %v", res.Latency)
	}
	if client.Stats().CumulativeLatency != 500*time.Millisecond {
		t.Errorf("Expected cumulative latency 500ms, got %v", client.Stats().CumulativeLatency)
	}
}
