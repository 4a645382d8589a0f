package klatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/klatch/internal/backoff"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

// Client sends chat requests with result caching, in-flight deduplication,
// retries and streaming. It is safe for concurrent use.
type Client struct {
	transport  Transport
	codec      Codec
	clock      Clock
	endpoint   string
	headers    http.Header
	httpClient *http.Client
	middleware []Middleware

	retryPolicy     RetryPolicy
	backoffStrategy backoff.Strategy

	cacheEnabled      bool
	cacheTTL          time.Duration
	cacheMaxSize      int
	cache             *ResultCache
	streamCachePolicy StreamCachePolicy

	dedupEnabled bool
	inflight     *InFlightRegistry

	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
	cbConfig       *CircuitBreakerConfig

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	stats statsRecorder
	calls *callTable

	validationError error
}

// New constructs a Client from options. Configuration problems are recorded
// and reported by ValidationError and by every request.
func New(options ...Option) *Client {
	client := &Client{
		codec:             OpenAICodec{},
		clock:             SystemClock{},
		endpoint:          defaultEndpoint,
		headers:           make(http.Header),
		retryPolicy:       DefaultRetryPolicy(),
		backoffStrategy:   backoff.CappedExponentialStrategy{},
		cacheEnabled:      true,
		cacheTTL:          defaultCacheTTL,
		cacheMaxSize:      defaultCacheMaxSize,
		streamCachePolicy: StreamCacheNone,
		dedupEnabled:      true,
		debug:             DefaultDebugConfig(),
		logger:            discardLogger(),
		calls:             newCallTable(),
	}

	for _, option := range options {
		option(client)
	}

	if client.debug == nil {
		client.debug = DefaultDebugConfig()
	}
	if client.logger == nil {
		client.logger = discardLogger()
	}
	if client.transport == nil {
		client.transport = NewHTTPTransport(client.httpClient, client.middleware...)
	}
	if client.cacheEnabled {
		cache, err := NewResultCache(client.cacheTTL, client.cacheMaxSize, client.clock)
		if err != nil {
			client.validationError = err
		}
		client.cache = cache
	}
	if client.dedupEnabled {
		client.inflight = NewInFlightRegistry()
	}
	if client.cbConfig != nil {
		client.circuitBreaker = NewCircuitBreaker(*client.cbConfig, client.clock)
	}

	if err := client.ValidateConfiguration(); err != nil && client.validationError == nil {
		client.validationError = err
	}
	return client
}

// Send performs a buffered request. Identical requests are answered from the
// result cache or joined to an identical request already in flight.
func (c *Client) Send(ctx context.Context, turns []Turn, cfg GenerationConfig) (*Result, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	start := c.clock.Now()
	fp := Fingerprint(turns, cfg)
	requestID := c.newRequestID()

	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("starting request", "requestID", requestID, "mode", modeBuffered, "model", cfg.Model, "fingerprint", fp)
	}
	c.metrics.RecordRequestStart(modeBuffered)

	res, err := c.sendBuffered(ctx, requestID, fp, turns, cfg)
	return c.finalize(requestID, modeBuffered, cfg.Model, start, res, err)
}

// SendStreaming performs a streaming request, calling onChunk with each
// content delta in arrival order. Streaming requests bypass the in-flight
// registry; see StreamCachePolicy for their interaction with the cache.
func (c *Client) SendStreaming(ctx context.Context, turns []Turn, cfg GenerationConfig, onChunk func(string)) (*Result, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	start := c.clock.Now()
	fp := Fingerprint(turns, cfg)
	requestID := c.newRequestID()

	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("starting request", "requestID", requestID, "mode", modeStream, "model", cfg.Model, "fingerprint", fp)
	}
	c.metrics.RecordRequestStart(modeStream)

	res, complete, err := c.executeStream(ctx, requestID, fp, turns, cfg, onChunk)
	// a stream that ended without [DONE] may be truncated
	if err == nil && complete && c.cache != nil && c.streamCachePolicy == StreamCacheFinalText {
		c.storeResult(requestID, fp, res)
	}
	return c.finalize(requestID, modeStream, cfg.Model, start, res, err)
}

func (c *Client) sendBuffered(ctx context.Context, requestID, fp string, turns []Turn, cfg GenerationConfig) (*Result, error) {
	if c.cache != nil {
		if res, ok := c.cachedResult(requestID, fp, cfg.Model); ok {
			return res, nil
		}
		c.stats.cacheMisses.Add(1)
		c.metrics.RecordCacheMiss(cfg.Model)
		if c.debugEnabled(c.debug.LogCache) {
			c.logger.Debug("cache miss", "requestID", requestID, "fingerprint", fp)
		}
	}

	if c.inflight == nil {
		res, err := c.execute(ctx, requestID, fp, turns, cfg)
		if err == nil {
			c.storeResult(requestID, fp, res)
		}
		return res, err
	}

	call, owner := c.inflight.JoinOrRegister(fp)
	if !owner {
		return c.join(ctx, requestID, fp, cfg, call)
	}
	return c.own(ctx, requestID, fp, turns, cfg, call)
}

// cachedResult serves fp from the cache and counts the hit.
func (c *Client) cachedResult(requestID, fp, model string) (*Result, bool) {
	entry, ok := c.cache.Get(fp)
	if !ok {
		return nil, false
	}
	c.stats.cacheHits.Add(1)
	c.metrics.RecordCacheHit(model)
	if c.debugEnabled(c.debug.LogCache) {
		c.logger.Debug("cache hit", "requestID", requestID, "fingerprint", fp)
	}
	return &Result{
		Text:        entry.Text,
		TokenCount:  entry.TokenCount,
		Fingerprint: fp,
		FromCache:   true,
	}, true
}

func (c *Client) join(ctx context.Context, requestID, fp string, cfg GenerationConfig, call *PendingCall) (*Result, error) {
	c.stats.dedupHits.Add(1)
	c.metrics.RecordDeduplicationHit(cfg.Model)
	if c.debugEnabled(c.debug.LogDeduplication) {
		c.logger.Debug("joining in-flight request", "requestID", requestID, "fingerprint", fp, "waiters", call.Waiters())
	}

	shared, err := call.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			return nil, newCancelledError(ctx.Err())
		}
		return nil, err
	}

	res := *shared
	res.Deduplicated = true
	res.FromCache = false
	res.Attempts = 0
	return &res, nil
}

func (c *Client) own(ctx context.Context, requestID, fp string, turns []Turn, cfg GenerationConfig, call *PendingCall) (res *Result, err error) {
	defer func() {
		var shared *Result
		if res != nil {
			// finalize mutates res after release
			cp := *res
			shared = &cp
		}
		sharedErr := err
		if shared == nil && sharedErr == nil {
			sharedErr = newClientError(ErrorTypeCancelled, "owning request ended without an outcome", nil)
		}
		if releaseErr := c.inflight.Release(fp, call, shared, sharedErr); releaseErr != nil {
			c.logger.Error("release in-flight request", "requestID", requestID, "fingerprint", fp, "error", releaseErr)
		}
	}()

	// a previous owner may have stored and released between our cache
	// miss and registration
	if c.cache != nil {
		if cached, ok := c.cachedResult(requestID, fp, cfg.Model); ok {
			c.stats.cacheMisses.Add(-1)
			return cached, nil
		}
	}

	res, err = c.execute(ctx, requestID, fp, turns, cfg)
	if err == nil {
		// the cache is written before waiters are released
		c.storeResult(requestID, fp, res)
	}
	return res, err
}

func (c *Client) storeResult(requestID, fp string, res *Result) {
	if c.cache == nil || res == nil {
		return
	}
	c.cache.Put(fp, CacheEntry{
		Text:       res.Text,
		TokenCount: res.TokenCount,
		CreatedAt:  c.clock.Now(),
	})
	c.metrics.RecordCacheSize(c.cache.Len())
	if c.debugEnabled(c.debug.LogCache) {
		c.logger.Debug("result cached", "requestID", requestID, "fingerprint", fp, "ttl", c.cache.TTL())
	}
}

type bufferedOutcome struct {
	text   string
	tokens *int
}

func (c *Client) execute(ctx context.Context, requestID, fp string, turns []Turn, cfg GenerationConfig) (*Result, error) {
	req, err := c.newRequest(turns, cfg, false)
	if err != nil {
		return nil, err
	}

	out, attempts, err := runWithRetry(ctx, c.newRetryer(requestID, cfg.Model), func(ctx context.Context, attempt int) (bufferedOutcome, error) {
		if err := c.admit(ctx, requestID); err != nil {
			return bufferedOutcome{}, err
		}
		resp, err := c.transport.Call(ctx, req)
		c.recordAttempt(err)
		if err != nil {
			return bufferedOutcome{}, err
		}
		text, tokens, err := c.codec.DecodeResponse(resp.Body)
		if err != nil {
			return bufferedOutcome{}, err
		}
		return bufferedOutcome{text: text, tokens: tokens}, nil
	})
	if err != nil {
		return nil, annotate(err, requestID, c.endpoint)
	}

	c.metrics.RecordTokens(cfg.Model, out.tokens)
	return &Result{
		Text:        out.text,
		TokenCount:  out.tokens,
		Fingerprint: fp,
		Attempts:    attempts,
	}, nil
}

// executeStream also reports whether the stream ended with the [DONE] marker.
func (c *Client) executeStream(ctx context.Context, requestID, fp string, turns []Turn, cfg GenerationConfig, onChunk func(string)) (*Result, bool, error) {
	req, err := c.newRequest(turns, cfg, true)
	if err != nil {
		return nil, false, err
	}

	delivered := false
	emit := func(delta string) {
		delivered = true
		c.metrics.RecordStreamChunk(cfg.Model)
		if onChunk != nil {
			onChunk(delta)
		}
	}

	out, attempts, err := runWithRetry(ctx, c.newRetryer(requestID, cfg.Model), func(ctx context.Context, attempt int) (StreamResult, error) {
		if err := c.admit(ctx, requestID); err != nil {
			return StreamResult{}, err
		}
		body, err := c.transport.OpenStream(ctx, req)
		c.recordAttempt(err)
		if err != nil {
			return StreamResult{}, err
		}
		sr, err := DecodeStream(ctx, body, c.codec.ExtractDelta, emit)
		if err != nil && delivered {
			// text already reached the caller, replaying would duplicate it
			return sr, permanent(err)
		}
		return sr, err
	})
	if err != nil {
		return nil, false, annotate(err, requestID, c.endpoint)
	}

	if c.debugEnabled(c.debug.LogStream) {
		c.logger.Debug("stream finished", "requestID", requestID, "chunks", out.Chunks, "done", out.Done)
	}
	c.metrics.RecordTokens(cfg.Model, out.TokenCount)
	return &Result{
		Text:        out.Text,
		TokenCount:  out.TokenCount,
		Fingerprint: fp,
		Attempts:    attempts,
	}, out.Done, nil
}

func (c *Client) newRequest(turns []Turn, cfg GenerationConfig, stream bool) (*Request, error) {
	body, err := c.codec.EncodeRequest(turns, cfg, stream)
	if err != nil {
		return nil, newClientError(ErrorTypeTerminal, "encode request", err)
	}
	return &Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: c.headers.Clone(),
		Body:   body,
	}, nil
}

func (c *Client) newRetryer(requestID, model string) *retryer {
	r := newRetryer(c.retryPolicy, c.backoffStrategy, c.clock)
	r.onRetry = func(attempt int, delay time.Duration, err error) {
		c.stats.retries.Add(1)
		c.metrics.RecordRetry(model, attempt)
		if c.debugEnabled(c.debug.LogRetries) {
			c.logger.Info("scheduling retry", "requestID", requestID, "attempt", attempt+1, "maxAttempts", c.retryPolicy.MaxAttempts, "backoff", delay, "error", err)
		}
	}
	return r
}

// admit passes an attempt through the rate limiter and the circuit breaker.
func (c *Client) admit(ctx context.Context, requestID string) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			if c.debugEnabled(c.debug.LogRateLimit) {
				c.logger.Warn("rate limit wait failed", "requestID", requestID, "error", err)
			}
			return err
		}
		c.metrics.RecordRateLimiterTokens(c.rateLimiter.Tokens())
	}
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		if c.debugEnabled(c.debug.LogCircuit) {
			c.logger.Warn("circuit breaker open", "requestID", requestID, "endpoint", c.endpoint)
		}
		return newClientError(ErrorTypeCircuitOpen, "circuit breaker is open", nil)
	}
	return nil
}

func (c *Client) recordAttempt(err error) {
	if c.circuitBreaker == nil {
		return
	}
	switch {
	case err == nil:
		c.circuitBreaker.RecordSuccess()
	case IsTransient(err):
		c.circuitBreaker.RecordFailure()
	default:
		return
	}
	c.metrics.RecordCircuitBreakerState(c.circuitBreaker.State())
}

func (c *Client) finalize(requestID, mode, model string, start time.Time, res *Result, err error) (*Result, error) {
	latency := c.clock.Now().Sub(start)
	c.stats.totalRequests.Add(1)
	c.stats.latencyNanos.Add(int64(latency))
	c.metrics.RecordRequestEnd(mode)

	if err != nil {
		c.stats.failures.Add(1)
		if errors.Is(err, ErrCancelled) {
			c.stats.cancellations.Add(1)
		}
		c.metrics.RecordRequest(mode, model, "error", latency)
		c.metrics.RecordError(KindOf(err), mode)
		if c.debugEnabled(c.debug.LogRequests) {
			c.logger.Warn("request failed", "requestID", requestID, "mode", mode, "latency", latency, "error", err)
		}
		return nil, err
	}

	res.Latency = latency
	c.metrics.RecordRequest(mode, model, outcomeLabel(res), latency)
	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("request completed", "requestID", requestID, "mode", mode, "latency", latency,
			"fromCache", res.FromCache, "deduplicated", res.Deduplicated, "attempts", res.Attempts)
	}
	return res, nil
}

func outcomeLabel(res *Result) string {
	switch {
	case res.FromCache:
		return "cache_hit"
	case res.Deduplicated:
		return "deduplicated"
	default:
		return "success"
	}
}

func annotate(err error, requestID, endpoint string) error {
	var ce *ClientError
	if errors.As(err, &ce) {
		if ce.RequestID == "" {
			ce.RequestID = requestID
		}
		if ce.Endpoint == "" {
			ce.Endpoint = endpoint
		}
	}
	return err
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	s := c.stats.snapshot()
	if c.cache != nil {
		s.CacheSize = c.cache.Len()
	}
	if c.inflight != nil {
		s.InFlight = c.inflight.Len()
	}
	return s
}

// ClearCache drops every cached result.
func (c *Client) ClearCache() {
	if c.cache == nil {
		return
	}
	c.cache.Clear()
	c.metrics.RecordCacheSize(0)
}

// ConfigureCache changes the cache TTL and bound at runtime.
func (c *Client) ConfigureCache(ttl time.Duration, maxSize int) error {
	if c.cache == nil {
		return newClientError(ErrorTypeValidation, "result cache is disabled", nil)
	}
	if err := c.cache.Configure(ttl, maxSize); err != nil {
		return err
	}
	c.metrics.RecordCacheSize(c.cache.Len())
	return nil
}

// IsValid reports whether the configuration passed validation.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration error recorded by New.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfiguration checks the client configuration.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	if err := c.retryPolicy.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.cacheEnabled {
		if err := validateCacheBounds(c.cacheTTL, c.cacheMaxSize); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.codec == nil {
		problems = append(problems, "codec cannot be nil")
	}
	if c.clock == nil {
		problems = append(problems, "clock cannot be nil")
	}
	if c.endpoint == "" {
		problems = append(problems, "endpoint cannot be empty")
	}
	if c.backoffStrategy == nil {
		problems = append(problems, "backoff strategy cannot be nil")
	}
	if c.rateLimiter != nil && (c.rateLimiter.rps <= 0 || c.rateLimiter.burst <= 0) {
		problems = append(problems, "rate limit requires positive rate and burst")
	}
	if c.cbConfig != nil {
		if c.cbConfig.FailureThreshold < 0 || c.cbConfig.SuccessThreshold < 0 || c.cbConfig.RecoveryTimeout < 0 {
			problems = append(problems, "circuit breaker thresholds must be non-negative")
		}
	}
	for i, mw := range c.middleware {
		if mw == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	if len(problems) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}
