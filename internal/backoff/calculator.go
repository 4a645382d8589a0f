package backoff

import "time"

// Calculator binds a Strategy to a fixed set of delay parameters.
type Calculator struct {
	Strategy   Strategy
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewCalculator returns a Calculator. A nil strategy means CappedExponentialStrategy.
func NewCalculator(strategy Strategy, initial, max time.Duration, multiplier float64) *Calculator {
	if strategy == nil {
		strategy = CappedExponentialStrategy{}
	}
	return &Calculator{
		Strategy:   strategy,
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
	}
}

// Delay returns the wait before the retry that follows the given failed
// attempt (1-based). Non-positive attempts are treated as the first.
func (c *Calculator) Delay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	return c.Strategy.Calculate(failedAttempt-1, c.Initial, c.Max, c.Multiplier, c.Jitter)
}
