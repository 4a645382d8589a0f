// Package server exposes a Client over HTTP as a local chat gateway.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambiyansyah-risyal/klatch"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	// statusClientClosedRequest is the de facto status for a caller that
	// went away before the answer was ready.
	statusClientClosedRequest = 499
)

// ChatClient is the part of *klatch.Client the gateway needs.
type ChatClient interface {
	Send(ctx context.Context, turns []klatch.Turn, cfg klatch.GenerationConfig) (*klatch.Result, error)
	SendStreaming(ctx context.Context, turns []klatch.Turn, cfg klatch.GenerationConfig, onChunk func(string)) (*klatch.Result, error)
	Stats() klatch.Stats
	ClearCache()
}

// Config configures the gateway.
type Config struct {
	Address string
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	cfg    Config
	client ChatClient
	app    *echo.Echo
	logger *slog.Logger
}

// New constructs a gateway wired with routing and middleware.
func New(cfg Config, client ChatClient) (*Server, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if cfg.Address == "" {
		return nil, errors.New("listen address must not be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	srv := &Server{
		cfg:    cfg,
		client: client,
		app:    e,
		logger: logger,
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting gateway", "addr", s.cfg.Address)

	// Shutdown only reaches the server echo owns, so configure that one.
	s.app.Server.ReadTimeout = readTimeout
	s.app.Server.IdleTimeout = idleTimeout

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.Start(s.cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("gateway shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/chat", s.handleChat)
	s.app.GET("/v1/stats", s.handleStats)
	s.app.DELETE("/v1/cache", s.handleClearCache)
	if s.cfg.Gatherer != nil {
		s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": klatch.GetVersionInfo(),
	})
}

type chatRequest struct {
	Model        string        `json:"model"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens"`
	SystemPrompt string        `json:"system_prompt"`
	Stream       bool          `json:"stream"`
	Messages     []klatch.Turn `json:"messages"`
}

type chatResponse struct {
	Text         string `json:"text"`
	TokenCount   *int   `json:"token_count,omitempty"`
	Fingerprint  string `json:"fingerprint"`
	FromCache    bool   `json:"from_cache"`
	Deduplicated bool   `json:"deduplicated"`
	Attempts     int    `json:"attempts"`
	LatencyMS    int64  `json:"latency_ms"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if len(req.Messages) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "messages must not be empty",
			Type:    "invalid_request_error",
		}
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role),
				Type:    "invalid_request_error",
			}
		}
	}

	cfg := klatch.GenerationConfig{
		Model:        req.Model,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		SystemPrompt: req.SystemPrompt,
		Stream:       req.Stream,
	}
	if cfg.Model == "" {
		cfg.Model = s.cfg.DefaultModel
	}

	if req.Stream {
		return s.streamChat(c, req.Messages, cfg)
	}

	res, err := s.client.Send(c.Request().Context(), req.Messages, cfg)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, chatResponse{
		Text:         res.Text,
		TokenCount:   res.TokenCount,
		Fingerprint:  res.Fingerprint,
		FromCache:    res.FromCache,
		Deduplicated: res.Deduplicated,
		Attempts:     res.Attempts,
		LatencyMS:    res.Latency.Milliseconds(),
	})
}

// streamChat relays deltas as they arrive. Headers are committed with the
// first delta, so failures before it still get a regular error response.
func (s *Server) streamChat(c echo.Context, turns []klatch.Turn, cfg klatch.GenerationConfig) error {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		header := resp.Header()
		header.Set(echo.HeaderContentType, "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		resp.WriteHeader(http.StatusOK)
	}

	var writeErr error
	res, err := s.client.SendStreaming(c.Request().Context(), turns, cfg, func(delta string) {
		if writeErr != nil {
			return
		}
		begin()
		if writeErr = writeSSEData(resp, map[string]string{"delta": delta}); writeErr == nil {
			flusher.Flush()
		}
	})
	if err != nil && !started {
		return toHTTPError(err)
	}
	if writeErr != nil {
		s.logger.Warn("stream relay failed", "error", writeErr)
		return nil
	}

	begin()
	if err != nil {
		_ = writeSSEData(resp, errorPayload(toHTTPError(err).(requestError)))
	} else {
		_ = writeSSEData(resp, map[string]any{
			"done":        true,
			"text":        res.Text,
			"token_count": res.TokenCount,
			"attempts":    res.Attempts,
		})
	}
	_, _ = io.WriteString(resp, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

type statsResponse struct {
	TotalRequests    int64   `json:"total_requests"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	DedupHits        int64   `json:"dedup_hits"`
	Retries          int64   `json:"retries"`
	Failures         int64   `json:"failures"`
	Cancellations    int64   `json:"cancellations"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
	CacheSize        int     `json:"cache_size"`
	InFlight         int     `json:"in_flight"`
}

func (s *Server) handleStats(c echo.Context) error {
	st := s.client.Stats()
	return c.JSON(http.StatusOK, statsResponse{
		TotalRequests:    st.TotalRequests,
		CacheHits:        st.CacheHits,
		CacheMisses:      st.CacheMisses,
		CacheHitRate:     st.CacheHitRate(),
		DedupHits:        st.DedupHits,
		Retries:          st.Retries,
		Failures:         st.Failures,
		Cancellations:    st.Cancellations,
		AverageLatencyMS: float64(st.AverageLatency()) / float64(time.Millisecond),
		CacheSize:        st.CacheSize,
		InFlight:         st.InFlight,
	})
}

func (s *Server) handleClearCache(c echo.Context) error {
	s.client.ClearCache()
	return c.NoContent(http.StatusNoContent)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}
