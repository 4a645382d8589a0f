package klatch

import (
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/klatch/internal/backoff"
)

// StreamCachePolicy controls whether streamed results reach the result cache.
type StreamCachePolicy int

const (
	// StreamCacheNone leaves the cache untouched by streaming requests.
	StreamCacheNone StreamCachePolicy = iota
	// StreamCacheFinalText stores the full text of a successful stream so that
	// later buffered requests for the same fingerprint are served from cache.
	StreamCacheFinalText
)

// WithTransport sets the transport used for every attempt.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHTTPClient sets the *http.Client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMiddleware adds middleware to the default transport.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithCodec sets the provider payload codec.
func WithCodec(codec Codec) Option {
	return func(c *Client) {
		c.codec = codec
	}
}

// WithClock sets the clock used for cache expiry and backoff sleeps.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithEndpoint sets the chat completions URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		c.endpoint = url
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key != "" {
			c.headers.Set("Authorization", "Bearer "+key)
		}
	}
}

// WithHeaders adds headers to every provider request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithMaxAttempts sets RetryPolicy.MaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.retryPolicy.MaxAttempts = n
	}
}

// WithBackoff sets the retry delay parameters.
func WithBackoff(initial, max time.Duration, multiplier float64) Option {
	return func(c *Client) {
		c.retryPolicy.InitialDelay = initial
		c.retryPolicy.MaxDelay = max
		c.retryPolicy.BackoffMultiplier = multiplier
	}
}

// WithBackoffStrategy replaces the capped exponential delay computation.
func WithBackoffStrategy(strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.backoffStrategy = strategy
	}
}

// WithCache sets the result cache TTL and bound.
func WithCache(ttl time.Duration, maxSize int) Option {
	return func(c *Client) {
		c.cacheEnabled = true
		c.cacheTTL = ttl
		c.cacheMaxSize = maxSize
	}
}

// WithoutCache disables the result cache.
func WithoutCache() Option {
	return func(c *Client) {
		c.cacheEnabled = false
	}
}

// WithStreamCachePolicy decides whether streamed results are cached.
func WithStreamCachePolicy(policy StreamCachePolicy) Option {
	return func(c *Client) {
		c.streamCachePolicy = policy
	}
}

// WithoutDeduplication disables joining identical in-flight requests.
func WithoutDeduplication() Option {
	return func(c *Client) {
		c.dedupEnabled = false
	}
}

// WithRateLimit paces attempts to rps per second with bursts up to burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(rps, burst)
	}
}

// WithCircuitBreaker gates attempts with a circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.cbConfig = &config
	}
}

// WithMetrics registers a metrics collector on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output and internal errors.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging for every category.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets the debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithSimpleLogger enables debug logging to stderr.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets the function that names each request in logs
// and errors.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}
