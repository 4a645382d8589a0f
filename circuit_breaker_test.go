package klatch

import (
	"testing"
	"time"
)

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{}, nil)

	if cb.config.FailureThreshold != 5 || cb.config.RecoveryTimeout != 60*time.Second || cb.config.SuccessThreshold != 2 {
		t.Errorf("Unexpected defaults %+v", cb.config)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
	}, clock)

	cb.RecordFailure()
	if cb.State() != StateClosed || !cb.Allow() {
		t.Fatal("Expected breaker to stay closed below the threshold")
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected open breaker to refuse attempts")
	}

	clock.Advance(time.Minute)
	if !cb.Allow() || cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open trial after recovery, got %s", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open until enough successes, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailure(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second}, clock)

	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Errorf("Expected a half-open failure to reopen, got %s", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2}, newFakeClock())
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after a success reset, got %s", cb.State())
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := map[CircuitState]string{
		StateClosed:     "closed",
		StateOpen:       "open",
		StateHalfOpen:   "half-open",
		CircuitState(9): "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("Expected %s, got %s", want, state.String())
		}
	}
}
