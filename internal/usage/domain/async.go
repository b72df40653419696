package domain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const asyncTimeout = 5 * time.Second

// RecordAsync writes a usage log in the background. Failures are logged at
// warn and never reach the caller.
func RecordAsync(ctx context.Context, svc Service, log *zap.Logger, event Event) {
	if svc == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, asyncTimeout)
		defer cancel()
		if err := svc.Record(ctx, event); err != nil && log != nil {
			log.Warn("usage log write failed", zap.String("action", event.Action), zap.Error(err))
		}
	}()
}
