package klatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeTransport        = "TransportError"
	ErrorTypeTerminal         = "TerminalError"
	ErrorTypeExhaustedRetries = "ExhaustedRetries"
	ErrorTypeCancelled        = "Cancelled"
	ErrorTypeDecode           = "DecodeError"
	ErrorTypeRateLimit        = "RateLimitError"
	ErrorTypeCircuitOpen      = "CircuitOpenError"
	ErrorTypeValidation       = "ValidationError"
)

// Sentinel errors. They match any ClientError of the same Type under errors.Is.
var (
	ErrTransient        = &ClientError{Type: ErrorTypeTransport, Message: "klatch: transient transport failure"}
	ErrTerminal         = &ClientError{Type: ErrorTypeTerminal, Message: "klatch: request rejected"}
	ErrExhaustedRetries = &ClientError{Type: ErrorTypeExhaustedRetries, Message: "klatch: retries exhausted"}
	ErrCancelled        = &ClientError{Type: ErrorTypeCancelled, Message: "klatch: cancelled"}
	ErrDecode           = &ClientError{Type: ErrorTypeDecode, Message: "klatch: malformed response"}
	ErrRateLimited      = &ClientError{Type: ErrorTypeRateLimit, Message: "klatch: rate limited"}
	ErrCircuitOpen      = &ClientError{Type: ErrorTypeCircuitOpen, Message: "klatch: circuit open"}
)

// ClientError describes a failed operation.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Endpoint    string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

func newClientError(errorType, message string, cause error) *ClientError {
	return &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func newCancelledError(cause error) *ClientError {
	if cause == nil {
		cause = context.Canceled
	}
	return newClientError(ErrorTypeCancelled, "operation cancelled", cause)
}

// Error implements error.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 && e.MaxAttempts > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a ClientError of the same Type.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ClientError); ok {
		return e.Type == t.Type
	}
	return false
}

// DebugInfo renders a multi-line description for diagnostics.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Message: %s\n", e.Message)
	if e.RequestID != "" {
		fmt.Fprintf(&b, "Request ID: %s\n", e.RequestID)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, "Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(&b, "Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "Cause: %v\n", e.Cause)
	}
	return b.String()
}

// IsTransient reports whether err may succeed if the same request is sent
// again: transport failures, rate limiting and an open circuit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Type {
	case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

// KindOf returns the Type of the outermost ClientError in err's chain, or ""
// when err carries none.
func KindOf(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// isCancellation reports whether err stems from ctx ending.
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, ErrCancelled) {
		return true
	}
	return ctx.Err() != nil
}
