package logging

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	id := NewRequestID()
	if id == "" {
		t.Fatal("NewRequestID returned empty string")
	}

	ctx := WithRequestID(context.Background(), id)
	if got := RequestIDFrom(ctx); got != id {
		t.Errorf("RequestIDFrom = %q, want %q", got, id)
	}
}

func TestRequestIDMissing(t *testing.T) {
	if got := RequestIDFrom(context.Background()); got != "" {
		t.Errorf("RequestIDFrom on bare context = %q, want empty", got)
	}
}

func TestRequestIDsUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Errorf("two request IDs collided: %q", a)
	}
}

func TestDetachContext_SurvivesCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	detached := DetachContext(parent)

	cancel()

	if parent.Err() == nil {
		t.Error("parent should be cancelled")
	}
	if detached.Err() != nil {
		t.Errorf("detached should survive cancellation, got error: %v", detached.Err())
	}
}
