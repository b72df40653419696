package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/callsight/internal/observability/context"
	obslogger "github.com/smallbiznis/callsight/internal/observability/logger"
	"go.uber.org/zap"
)

// runReport tallies one job run and carries a logger bound to it.
// A nil report is valid and records nothing.
type runReport struct {
	job        string
	id         string
	batch      int
	started    time.Time
	reconciled int
	failed     int
	drifted    int
	log        *zap.Logger
}

type reportKey struct{}

func (s *Scheduler) beginRun(ctx context.Context, job string, batch int) (context.Context, *runReport) {
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	r := &runReport{
		job:     job,
		id:      s.genID.Generate().String(),
		batch:   batch,
		started: s.clock.Now(),
	}
	r.log = obslogger.WithContext(ctx, s.log).With(
		zap.String("job", job),
		zap.String("run_id", r.id),
	)
	r.log.Info("scheduler.job.start", zap.Int("batch_size", batch))
	return context.WithValue(ctx, reportKey{}, r), r
}

func reportFrom(ctx context.Context) *runReport {
	r, _ := ctx.Value(reportKey{}).(*runReport)
	return r
}

func (r *runReport) ok() {
	if r != nil {
		r.reconciled++
	}
}

func (r *runReport) drift() {
	if r != nil {
		r.drifted++
	}
}

func (r *runReport) fail(orgID snowflake.ID, msg string, err error) {
	if r == nil {
		return
	}
	r.failed++
	r.log.Error(msg, zap.String("org_id", orgID.String()), zap.Error(err))
}

func (r *runReport) logger(fallback *zap.Logger) *zap.Logger {
	if r == nil {
		return fallback
	}
	return r.log
}

func (r *runReport) finish(now time.Time, err error) {
	if r == nil {
		return
	}
	if err != nil && r.failed == 0 {
		r.failed = 1
	}
	log := r.log.Info
	if r.failed > 0 || r.drifted > 0 {
		log = r.log.Warn
	}
	log("scheduler.job.finish",
		zap.Duration("took", now.Sub(r.started)),
		zap.Int("reconciled", r.reconciled),
		zap.Int("failed", r.failed),
		zap.Int("drifted", r.drifted),
	)
}
