package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := Wrap(context.DeadlineExceeded, Timeout, "no audio received")
	outer := fmt.Errorf("synthesize post p1: %w", base)

	if got := KindOf(outer); got != Timeout {
		t.Fatalf("KindOf = %v, want %v", got, Timeout)
	}
	if !errors.Is(outer, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be reachable through the chain")
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Fatalf("plain errors should map to internal")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", New(Transport, "connection reset"), true},
		{"timeout", New(Timeout, "stalled"), true},
		{"validation", New(Validation, "empty text"), false},
		{"upstream", New(Upstream, "summarizer down"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := Newf(Validation, "rate %d out of range", 12).WithMetadata("field", "rate")
	msg := err.Error()
	if !strings.HasPrefix(msg, "[validation] rate 12 out of range") {
		t.Fatalf("unexpected message %q", msg)
	}
	if !strings.Contains(msg, "field:rate") {
		t.Fatalf("expected metadata in message, got %q", msg)
	}
}
