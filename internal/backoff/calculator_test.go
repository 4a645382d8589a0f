package backoff

import (
	"testing"
	"time"
)

func TestCalculatorDefaultsToCappedExponential(t *testing.T) {
	calc := NewCalculator(nil, 500*time.Millisecond, 10*time.Second, 2.0)

	if _, ok := calc.Strategy.(CappedExponentialStrategy); !ok {
		t.Fatalf("default strategy = %T, want CappedExponentialStrategy", calc.Strategy)
	}

	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := calc.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestCalculatorDelayClampsAttempt(t *testing.T) {
	calc := NewCalculator(CappedExponentialStrategy{}, 100*time.Millisecond, time.Second, 2.0)

	if got := calc.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v, want 100ms", got)
	}
}

func TestCalculatorCustomStrategy(t *testing.T) {
	calc := NewCalculator(DecorrelatedJitterStrategy{}, 100*time.Millisecond, time.Second, 2.0)

	if got := calc.Delay(1); got != 100*time.Millisecond {
		t.Errorf("Delay(1) = %v, want initial delay", got)
	}
}
