package domain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const asyncTimeout = 5 * time.Second

// LogAsync records an entry in the background. The write outlives the
// request context; failures are logged at warn and never surface.
func LogAsync(ctx context.Context, svc Service, log *zap.Logger, e Entry) {
	if svc == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, asyncTimeout)
		defer cancel()
		if err := svc.Record(ctx, e); err != nil && log != nil {
			log.Warn("audit write failed", zap.String("action", e.Action), zap.Error(err))
		}
	}()
}
