package klatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/klatch/internal/backoff"
)

// RetryPolicy decides which failures are retried and how long to wait.
type RetryPolicy struct {
	// MaxAttempts counts every attempt, the first one included.
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// RetryablePatterns are matched case-insensitively against the error text.
	RetryablePatterns []string
	// RetryableStatusCodes are upstream HTTP statuses worth retrying.
	RetryableStatusCodes []int
	// Jitter is the noise factor in [0, 1] handed to the backoff strategy.
	// CappedExponentialStrategy ignores it.
	Jitter float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		RetryablePatterns: []string{
			"network",
			"timeout",
			"connection reset",
			"connection refused",
			"EOF",
		},
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
		Jitter:               0.1,
	}
}

// Validate reports the first problem with p.
func (p RetryPolicy) Validate() error {
	var problems []string
	if p.MaxAttempts < 1 {
		problems = append(problems, "maxAttempts must be at least 1")
	}
	if p.MaxAttempts > 100 {
		problems = append(problems, "maxAttempts > 100 may cause excessive resource usage")
	}
	if p.InitialDelay < 0 {
		problems = append(problems, "initialDelay must be non-negative")
	}
	if p.MaxDelay < p.InitialDelay {
		problems = append(problems, "maxDelay must be greater than or equal to initialDelay")
	}
	if p.BackoffMultiplier < 1 {
		problems = append(problems, "backoffMultiplier must be at least 1")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		problems = append(problems, "jitter must be between 0 and 1")
	}
	if len(problems) > 0 {
		return newClientError(ErrorTypeValidation, "invalid retry policy", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// IsRetryable classifies a failed attempt. Cancellation and terminal request
// errors are never retried. A transport error is retried when it carries a
// retryable status code or no status at all. Gate errors are always retried,
// and other errors only when they mention one of the retryable patterns.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		switch ce.Type {
		case ErrorTypeCancelled, ErrorTypeExhaustedRetries, ErrorTypeValidation:
			return false
		}
		if ce.StatusCode != 0 && slices.Contains(p.RetryableStatusCodes, ce.StatusCode) {
			return true
		}
		switch ce.Type {
		case ErrorTypeTerminal, ErrorTypeDecode:
			return false
		case ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		}
		if ce.StatusCode != 0 {
			return false
		}
		if ce.Type == ErrorTypeTransport {
			return true
		}
	}

	text := strings.ToLower(err.Error())
	for _, pattern := range p.RetryablePatterns {
		if pattern != "" && strings.Contains(text, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// retryer runs attempts under a policy.
type retryer struct {
	policy  RetryPolicy
	delays  *backoff.Calculator
	clock   Clock
	onRetry func(attempt int, delay time.Duration, err error)
}

func newRetryer(policy RetryPolicy, strategy backoff.Strategy, clock Clock) *retryer {
	delays := backoff.NewCalculator(strategy, policy.InitialDelay, policy.MaxDelay, policy.BackoffMultiplier)
	delays.Jitter = policy.Jitter
	return &retryer{
		policy: policy,
		delays: delays,
		clock:  clock,
	}
}

// stopRetry marks an attempt failure that must be returned without retrying.
type stopRetry struct {
	err error
}

func (s *stopRetry) Error() string { return s.err.Error() }
func (s *stopRetry) Unwrap() error { return s.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &stopRetry{err: err}
}

// runWithRetry calls op until it succeeds, fails with a non-retryable error,
// ctx ends or the policy runs out of attempts. The first attempt runs
// immediately. It returns the number of attempts made.
func runWithRetry[T any](ctx context.Context, r *retryer, op func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, 0, newCancelledError(err)
	}

	maxAttempts := r.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		val, err := op(ctx, attempt)
		if err == nil {
			return val, attempt, nil
		}

		var stop *stopRetry
		if errors.As(err, &stop) {
			return zero, attempt, stop.err
		}
		if isCancellation(ctx, err) {
			if errors.Is(err, ErrCancelled) {
				return zero, attempt, err
			}
			return zero, attempt, newCancelledError(ctx.Err())
		}
		if !r.policy.IsRetryable(err) {
			return zero, attempt, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := r.delays.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return zero, attempt, newCancelledError(err)
		}
	}

	return zero, maxAttempts, &ClientError{
		Type:        ErrorTypeExhaustedRetries,
		Message:     fmt.Sprintf("giving up after %d attempts", maxAttempts),
		Cause:       lastErr,
		Attempt:     maxAttempts,
		MaxAttempts: maxAttempts,
		Timestamp:   r.clock.Now(),
	}
}
