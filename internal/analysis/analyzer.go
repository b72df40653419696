// Package analysis is the seam for the AI call analysis backend. Billing
// treats a run as one opaque billable action.
package analysis

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("analysis",
	fx.Provide(func(log *zap.Logger) Analyzer { return NewNoOp(log) }),
)

type Request struct {
	CallID     string
	Transcript string
	Language   string
}

type Result struct {
	CallID    string   `json:"callId"`
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment"`
	Topics    []string `json:"topics"`
}

type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

var ErrInvalidCall = errors.New("invalid_call")

// NoOp returns an empty analysis. It is used when no model backend is wired.
type NoOp struct {
	log *zap.Logger
}

func NewNoOp(log *zap.Logger) *NoOp {
	return &NoOp{log: log.Named("analysis.noop")}
}

func (n *NoOp) Analyze(ctx context.Context, req Request) (*Result, error) {
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		return nil, ErrInvalidCall
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.log.Debug("analysis skipped, no backend configured", zap.String("call_id", callID))
	return &Result{CallID: callID, Sentiment: "neutral", Topics: []string{}}, nil
}
