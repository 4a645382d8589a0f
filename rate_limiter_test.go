package klatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("Expected the burst to be available")
	}
	if rl.Allow() {
		t.Error("Expected the bucket to be empty after the burst")
	}
	if rl.Tokens() >= 1 {
		t.Errorf("Expected less than one token, got %v", rl.Tokens())
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf(expectedErrTypeMsg, ErrorTypeCancelled, err)
	}
}

func TestRateLimiterWaitDeadlineTooShort(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := rl.Wait(ctx)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf(expectedErrTypeMsg, ErrorTypeRateLimit, err)
	}
}

func TestSendRateLimited(t *testing.T) {
	transport := newScriptedTransport(step{text: "x"})
	client := newTestClient(transport, newFakeClock(), WithRateLimit(1000, 5), WithoutCache())

	for i := 0; i < 5; i++ {
		if _, err := client.Send(context.Background(), userTurns("q"), zeroTemp); err != nil {
			t.Fatalf(unexpectedErrMsg, err)
		}
	}
	if transport.Calls() != 5 {
		t.Errorf(expectedCallsMsg, 5, transport.Calls())
	}
}
