// Package backoff computes retry delays.
package backoff

import (
	"math/rand"
	"time"
)

// maxExponent bounds the exponent so multiplier^attempt cannot overflow a float.
const maxExponent = 30

// Strategy computes the delay that precedes a retry. attempt is zero based:
// attempt 0 is the delay after the first failed call.
type Strategy interface {
	Calculate(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration
}

// CappedExponentialStrategy returns min(initial*multiplier^attempt, max).
// The jitter argument is ignored, so delays are deterministic.
type CappedExponentialStrategy struct{}

// Calculate implements Strategy.
func (CappedExponentialStrategy) Calculate(attempt int, initial, max time.Duration, multiplier, _ float64) time.Duration {
	return capped(attempt, initial, max, multiplier)
}

// ExponentialJitterStrategy adds up to jitter*delay of uniform noise on top
// of the capped exponential delay, never exceeding max.
type ExponentialJitterStrategy struct{}

// Calculate implements Strategy.
func (ExponentialJitterStrategy) Calculate(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	delay := capped(attempt, initial, max, multiplier)

	jitter = clampJitter(jitter)
	if jitter == 0 {
		return delay
	}
	extra := time.Duration(float64(delay) * jitter * rand.Float64())
	if delay+extra > max {
		return max
	}
	return delay + extra
}

// DecorrelatedJitterStrategy draws a delay uniformly from
// [initial, min(max, initial*3^attempt)].
type DecorrelatedJitterStrategy struct{}

// Calculate implements Strategy.
func (DecorrelatedJitterStrategy) Calculate(attempt int, initial, max time.Duration, _, _ float64) time.Duration {
	if attempt <= 0 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * Pow(3.0, attempt)
	if upper > float64(max) || upper < 0 {
		upper = float64(max)
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > max {
		return max
	}
	return delay
}

func capped(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxExponent {
		attempt = maxExponent
	}

	delay := time.Duration(float64(initial) * Pow(multiplier, attempt))
	if delay < 0 || delay > max {
		return max
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow returns base^exponent for a non-negative integer exponent.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
