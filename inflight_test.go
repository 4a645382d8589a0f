package klatch

import (
	"context"
	"errors"
	"testing"
)

func TestInFlightRegistryLifecycle(t *testing.T) {
	reg := NewInFlightRegistry()

	if _, ok := reg.Join("fp"); ok {
		t.Fatal("Expected no pending call before Register")
	}

	call, err := reg.Register("fp")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := reg.Register("fp"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}

	joined, ok := reg.Join("fp")
	if !ok || joined != call {
		t.Fatal("Expected Join to return the registered call")
	}

	want := &Result{Text: "4", Fingerprint: "fp"}
	if err := reg.Release("fp", call, want, nil); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Len())
	}

	got, err := joined.Wait(context.Background())
	if err != nil || got != want {
		t.Errorf("Expected shared result, got %v, %v", got, err)
	}
}

func TestInFlightRegistrySharesFailure(t *testing.T) {
	reg := NewInFlightRegistry()
	call, owner := reg.JoinOrRegister("fp")
	if !owner {
		t.Fatal("Expected first caller to own the call")
	}
	joined, owner := reg.JoinOrRegister("fp")
	if owner || joined != call {
		t.Fatal("Expected second caller to join")
	}

	failure := newClientError(ErrorTypeTerminal, "bad request", nil)
	if err := reg.Release("fp", call, nil, failure); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	if _, err := joined.Wait(context.Background()); !errors.Is(err, ErrTerminal) {
		t.Errorf(expectedErrTypeMsg, ErrorTypeTerminal, err)
	}
}

func TestInFlightJoinerCancelDoesNotAffectOwner(t *testing.T) {
	reg := NewInFlightRegistry()
	call, _ := reg.JoinOrRegister("fp")
	joined, _ := reg.JoinOrRegister("fp")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := joined.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	select {
	case <-call.Done():
		t.Fatal("Joiner cancellation must not complete the owner's call")
	default:
	}
	if reg.Len() != 1 {
		t.Errorf("Expected the entry to remain registered, got %d", reg.Len())
	}

	if err := reg.Release("fp", call, &Result{Text: "ok"}, nil); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
}
