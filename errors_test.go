package klatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClientErrorError(t *testing.T) {
	err := &ClientError{
		Type:        ErrorTypeTransport,
		Message:     "network timeout",
		Cause:       context.DeadlineExceeded,
		RequestID:   "req-1",
		Attempt:     2,
		MaxAttempts: 3,
	}

	got := err.Error()
	for _, part := range []string{"[req-1]", "TransportError: network timeout", "context deadline exceeded", "(attempt 2/3)"} {
		if !strings.Contains(got, part) {
			t.Errorf("Expected %q in %q", part, got)
		}
	}

	var nilErr *ClientError
	if nilErr.Error() != "<nil>" {
		t.Errorf("Expected <nil>, got %q", nilErr.Error())
	}
}

func TestClientErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newClientError(ErrorTypeTerminal, "bad request", nil))

	if !errors.Is(err, ErrTerminal) {
		t.Error("Expected errors.Is to match ErrTerminal")
	}
	if errors.Is(err, ErrTransient) {
		t.Error("Expected errors.Is not to match ErrTransient")
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	err := newCancelledError(nil)
	if !errors.Is(err, context.Canceled) {
		t.Error("Expected a default cancellation cause of context.Canceled")
	}
	if !errors.Is(newCancelledError(context.DeadlineExceeded), context.DeadlineExceeded) {
		t.Error("Expected the deadline cause to be kept")
	}
}

func TestClientErrorDebugInfo(t *testing.T) {
	err := newClientError(ErrorTypeTerminal, "upstream status 401: bad key", nil)
	err.StatusCode = 401
	err.Endpoint = "https://example.test/v1/chat/completions"

	info := err.DebugInfo()
	for _, part := range []string{"Error Type: TerminalError", "Status Code: 401", "Endpoint: https://example.test", "Timestamp:"} {
		if !strings.Contains(info, part) {
			t.Errorf("Expected %q in debug info:\n%s", part, info)
		}
	}
}

func TestIsTransientAndKindOf(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
		kind      string
	}{
		{nil, false, ""},
		{errors.New("plain"), false, ""},
		{transientErr("network"), true, ErrorTypeTransport},
		{newClientError(ErrorTypeRateLimit, "x", nil), true, ErrorTypeRateLimit},
		{newClientError(ErrorTypeCircuitOpen, "x", nil), true, ErrorTypeCircuitOpen},
		{newClientError(ErrorTypeDecode, "x", nil), false, ErrorTypeDecode},
		{newCancelledError(nil), false, ErrorTypeCancelled},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.transient {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.transient)
		}
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}
}
