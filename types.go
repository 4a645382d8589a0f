package klatch

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Role identifies the author of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationConfig carries the generation parameters of a request.
type GenerationConfig struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	// Stream asks Start to deliver output incrementally. It does not take
	// part in the fingerprint.
	Stream bool `json:"stream,omitempty"`
}

// CacheEntry is a completed result stored under its fingerprint.
type CacheEntry struct {
	Text       string
	TokenCount *int
	CreatedAt  time.Time
}

// Result is the outcome of a successful request.
type Result struct {
	Text        string
	TokenCount  *int
	Fingerprint string
	// FromCache is set when the result was served by the result cache.
	FromCache bool
	// Deduplicated is set when the result was shared from another caller's
	// in-flight request.
	Deduplicated bool
	// Attempts is the number of transport attempts this caller made. It is
	// zero for cached and deduplicated results.
	Attempts int
	Latency  time.Duration
}

// Request is a provider request ready to be sent.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read, successful provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends provider requests. Implementations must return a
// *ClientError for failures that the retry engine should classify.
type Transport interface {
	Call(ctx context.Context, req *Request) (*Response, error)
	OpenStream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// Middleware wraps the HTTP round trip of HTTPTransport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the minimal HTTP client surface used by middleware.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f(req).
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option configures a Client.
type Option func(*Client)
