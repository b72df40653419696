package analysis

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestNoOpAnalyze(t *testing.T) {
	a := NewNoOp(zap.NewNop())

	res, err := a.Analyze(context.Background(), Request{CallID: " call_1 "})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.CallID != "call_1" {
		t.Fatalf("expected call_1, got %q", res.CallID)
	}

	if _, err := a.Analyze(context.Background(), Request{}); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Analyze(ctx, Request{CallID: "call_2"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
