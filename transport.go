package klatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultDialTimeout           = 10 * time.Second
	defaultKeepAlive             = 30 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultResponseHeaderTimeout = 60 * time.Second
	maxErrorBodyBytes            = 64 * 1024
)

// HTTPTransport sends provider requests over net/http through an optional
// middleware chain.
type HTTPTransport struct {
	client     *http.Client
	middleware []Middleware
}

// NewHTTPTransport wraps client. A nil client gets pooled defaults without an
// overall timeout, so streams are bounded only by the caller's context.
func NewHTTPTransport(client *http.Client, middleware ...Middleware) *HTTPTransport {
	if client == nil {
		client = newHTTPClient(defaultResponseHeaderTimeout)
	}
	return &HTTPTransport{client: client, middleware: middleware}
}

func newHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: transport}
}

// Call implements Transport.
func (t *HTTPTransport) Call(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.roundTrip(httpReq)
	if err != nil {
		return nil, networkError(ctx, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(req.URL, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(ctx, req.URL, fmt.Errorf("read response body: %w", err))
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// OpenStream implements Transport. The caller owns the returned body.
func (t *HTTPTransport) OpenStream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := t.roundTrip(httpReq)
	if err != nil {
		return nil, networkError(ctx, req.URL, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, statusError(req.URL, resp)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) roundTrip(req *http.Request) (*http.Response, error) {
	if len(t.middleware) == 0 {
		return t.client.Do(req)
	}

	current := RoundTripper(RoundTripperFunc(t.client.Do))
	for i := len(t.middleware) - 1; i >= 0; i-- {
		mw := t.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return mw(r, next)
		})
	}
	return current.RoundTrip(req)
}

func buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, newClientError(ErrorTypeTerminal, "build request", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func networkError(ctx context.Context, endpoint string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newCancelledError(ctxErr)
	}

	message := "network request failed"
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		message = "network timeout"
	}
	ce := newClientError(ErrorTypeTransport, message, err)
	ce.Endpoint = endpoint
	return ce
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// statusError maps a non-success response. 408, 429 and 5xx are transient;
// every other status rejects the request.
func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	detail := strings.TrimSpace(string(body))
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		detail = apiErr.Error.Message
	}

	errorType := ErrorTypeTerminal
	if resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError {
		errorType = ErrorTypeTransport
	}

	ce := newClientError(errorType, fmt.Sprintf("upstream status %d: %s", resp.StatusCode, detail), nil)
	ce.StatusCode = resp.StatusCode
	ce.Endpoint = endpoint
	return ce
}
