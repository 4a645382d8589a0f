package klatch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket that paces attempts before they reach the
// transport.
type RateLimiter struct {
	limiter *rate.Limiter
	rps     float64
	burst   int
}

// NewRateLimiter allows rps attempts per second with bursts of up to burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
	}
}

// Allow takes a token if one is available without waiting.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until a token is available. It fails with Cancelled when ctx
// ends first and with a rate limit error when ctx's deadline would pass
// before a token frees up.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return newCancelledError(ctx.Err())
		}
		return newClientError(ErrorTypeRateLimit, fmt.Sprintf("rate limit of %.2f/s exceeded", rl.rps), err)
	}
	return nil
}

// Tokens reports the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}
