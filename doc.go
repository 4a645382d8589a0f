// Package klatch is a resilient client layer for LLM chat-completion APIs.
//
// A Client wraps a provider endpoint with:
//
//   - Request fingerprinting over the full conversation and generation settings
//   - A bounded, TTL-based result cache keyed by fingerprint
//   - In-flight deduplication: concurrent identical buffered requests share one upstream call
//   - Retries with capped exponential backoff for transient failures
//   - Incremental decoding of server-sent-event streams
//   - Optional client-side rate limiting and a circuit breaker
//   - Prometheus metrics, counters via Stats and structured debug logging
//
// Typical usage:
//
//	client := klatch.New(
//	    klatch.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    klatch.WithCache(5*time.Minute, 100),
//	    klatch.WithMaxAttempts(3),
//	)
//	res, err := client.Send(ctx, []klatch.Turn{{Role: klatch.RoleUser, Content: "hello"}},
//	    klatch.GenerationConfig{Model: "gpt-4o-mini", Temperature: 0.2})
//
// Cancellation is per caller. A caller that joined an identical in-flight
// request can give up without affecting the caller that owns the upstream
// call, and a cancelled request never leaves an entry in the in-flight
// registry.
package klatch
