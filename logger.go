package klatch

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger receives structured log records as a message plus key/value pairs.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DebugConfig selects which parts of the request lifecycle are logged.
type DebugConfig struct {
	Enabled          bool
	LogRequests      bool
	LogCache         bool
	LogDeduplication bool
	LogRetries       bool
	LogStream        bool
	LogRateLimit     bool
	LogCircuit       bool
	RequestIDGen     func() string
}

// DefaultDebugConfig returns a disabled config with every category selected.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:          false,
		LogRequests:      true,
		LogCache:         true,
		LogDeduplication: true,
		LogRetries:       true,
		LogStream:        true,
		LogRateLimit:     true,
		LogCircuit:       true,
		RequestIDGen:     uuid.NewString,
	}
}

// NewSimpleLogger returns a text logger on stderr at debug level.
func NewSimpleLogger() Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func discardLogger() Logger {
	return slog.New(slog.DiscardHandler)
}

func (c *Client) debugEnabled(category bool) bool {
	return c.debug != nil && c.debug.Enabled && category && c.logger != nil
}

func (c *Client) newRequestID() string {
	if c.debug != nil && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return uuid.NewString()
}
