package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ambiyansyah-risyal/klatch"
)

type stubClient struct {
	text    string
	deltas  []string
	err     error
	lastCfg klatch.GenerationConfig
	cleared atomic.Bool
}

func (s *stubClient) Send(ctx context.Context, turns []klatch.Turn, cfg klatch.GenerationConfig) (*klatch.Result, error) {
	s.lastCfg = cfg
	if s.err != nil {
		return nil, s.err
	}
	tokens := 3
	return &klatch.Result{Text: s.text, TokenCount: &tokens, Fingerprint: "fp", Attempts: 1, Latency: 20 * time.Millisecond}, nil
}

func (s *stubClient) SendStreaming(ctx context.Context, turns []klatch.Turn, cfg klatch.GenerationConfig, onChunk func(string)) (*klatch.Result, error) {
	s.lastCfg = cfg
	for _, d := range s.deltas {
		onChunk(d)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &klatch.Result{Text: strings.Join(s.deltas, ""), Attempts: 1}, nil
}

func (s *stubClient) Stats() klatch.Stats {
	return klatch.Stats{TotalRequests: 4, CacheHits: 1, CacheMisses: 3, CumulativeLatency: 40 * time.Millisecond, CacheSize: 2}
}

func (s *stubClient) ClearCache() {
	s.cleared.Store(true)
}

func newTestServer(t *testing.T, client ChatClient, gatherer prometheus.Gatherer) http.Handler {
	t.Helper()
	srv, err := New(Config{Address: "127.0.0.1:0", DefaultModel: "default-model", Gatherer: gatherer}, client)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv.Handler()
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Address: ":0"}, nil); err == nil {
		t.Error("Expected error for nil client")
	}
	if _, err := New(Config{}, &stubClient{}); err == nil {
		t.Error("Expected error for empty address")
	}
}

func TestHealth(t *testing.T) {
	rec := doRequest(newTestServer(t, &stubClient{}, nil), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}
}

func TestChatBuffered(t *testing.T) {
	client := &stubClient{text: "4"}
	h := newTestServer(t, client, nil)

	rec := doRequest(h, http.MethodPost, "/v1/chat", `{"temperature":0,"messages":[{"role":"user","content":"2+2?"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Text != "4" || resp.Attempts != 1 || resp.LatencyMS != 20 {
		t.Errorf("Unexpected response %+v", resp)
	}
	if client.lastCfg.Model != "default-model" {
		t.Errorf("Expected default model, got %q", client.lastCfg.Model)
	}
}

func TestChatValidation(t *testing.T) {
	h := newTestServer(t, &stubClient{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"bad json", "{"},
		{"two objects", `{"messages":[]} {}`},
		{"no messages", `{"model":"m"}`},
		{"bad role", `{"messages":[{"role":"tool","content":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/v1/chat", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), "invalid_request_error") {
				t.Errorf("Expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&klatch.ClientError{Type: klatch.ErrorTypeCancelled}, statusClientClosedRequest},
		{&klatch.ClientError{Type: klatch.ErrorTypeTerminal, Message: "upstream status 401"}, http.StatusBadGateway},
		{&klatch.ClientError{Type: klatch.ErrorTypeExhaustedRetries}, http.StatusBadGateway},
		{&klatch.ClientError{Type: klatch.ErrorTypeDecode}, http.StatusBadGateway},
		{&klatch.ClientError{Type: klatch.ErrorTypeRateLimit}, http.StatusTooManyRequests},
		{&klatch.ClientError{Type: klatch.ErrorTypeCircuitOpen}, http.StatusServiceUnavailable},
		{&klatch.ClientError{Type: klatch.ErrorTypeValidation}, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(klatch.KindOf(tt.err), func(t *testing.T) {
			h := newTestServer(t, &stubClient{err: tt.err}, nil)
			rec := doRequest(h, http.MethodPost, "/v1/chat", `{"model":"m","messages":[{"role":"user","content":"x"}]}`)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestChatStreaming(t *testing.T) {
	h := newTestServer(t, &stubClient{deltas: []string{"Hel", "lo"}}, nil)

	rec := doRequest(h, http.MethodPost, "/v1/chat", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected event stream, got %q", ct)
	}

	res, err := klatch.DecodeStream(context.Background(), nopCloser{strings.NewReader(rec.Body.String())}, klatch.ExtractDelta, nil)
	if err != nil {
		t.Fatalf("DecodeStream() error: %v", err)
	}
	if res.Text != "Hello" || !res.Done {
		t.Errorf("Expected Hello with [DONE], got %+v", res)
	}
}

func TestChatStreamingFailureBeforeFirstChunk(t *testing.T) {
	h := newTestServer(t, &stubClient{err: &klatch.ClientError{Type: klatch.ErrorTypeExhaustedRetries}}, nil)

	rec := doRequest(h, http.MethodPost, "/v1/chat", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
}

func TestChatStreamingFailureAfterChunk(t *testing.T) {
	h := newTestServer(t, &stubClient{deltas: []string{"par"}, err: &klatch.ClientError{Type: klatch.ErrorTypeTransport}}, nil)

	rec := doRequest(h, http.MethodPost, "/v1/chat", `{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected committed 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"error"`) || !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("Expected an error frame then [DONE], got %q", body)
	}
}

func TestStatsAndClearCache(t *testing.T) {
	client := &stubClient{}
	h := newTestServer(t, client, nil)

	rec := doRequest(h, http.MethodGet, "/v1/stats", "")
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats.TotalRequests != 4 || stats.CacheHitRate != 0.25 || stats.AverageLatencyMS != 10 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	rec = doRequest(h, http.MethodDelete, "/v1/cache", "")
	if rec.Code != http.StatusNoContent || !client.cleared.Load() {
		t.Errorf("Expected cache to be cleared, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := klatch.NewMetricsCollectorWithRegistry(registry)
	mc.RecordCacheHit("m")

	rec := doRequest(newTestServer(t, &stubClient{}, registry), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "klatch_cache_hits_total") {
		t.Errorf("Expected metrics output, got %d", rec.Code)
	}

	rec = doRequest(newTestServer(t, &stubClient{}, nil), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a gatherer, got %d", rec.Code)
	}
}

func TestRunShutsDown(t *testing.T) {
	srv, err := New(Config{Address: "127.0.0.1:0"}, &stubClient{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

type nopCloser struct {
	*strings.Reader
}

func (nopCloser) Close() error { return nil }
