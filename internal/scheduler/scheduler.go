package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/callsight/internal/audit/domain"
	"github.com/smallbiznis/callsight/internal/auditcontext"
	"github.com/smallbiznis/callsight/internal/clock"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/callsight/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobLedgerReconcile = "ledger_reconcile"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
	Config    Config              `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
	metrics   *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.LedgerSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, report := s.beginRun(ctx, name, batchSize)
	s.metrics.RecordJobRun(ctx, name)

	err := fn(ctx)
	report.finish(s.clock.Now(), err)
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next tick resumes from scratch.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordJobError(ctx, name, "deadline_exceeded")
		report.logger(s.log).Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	s.metrics.RecordJobError(ctx, name, "failed")
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobLedgerReconcile, s.cfg.BatchSize, s.cfg.JobTimeout, s.LedgerReconcileJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LedgerReconcileJob walks active organizations in id order and compares
// each cached balance with its ledger sum. Drift is reported, never repaired.
func (s *Scheduler) LedgerReconcileJob(ctx context.Context) error {
	report := reportFrom(ctx)
	var cursor int64
	for {
		ids, err := s.fetchActiveOrganizations(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, raw := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			orgID := snowflake.ID(raw)
			rec, err := s.ledgerSvc.Reconcile(ctx, orgID)
			if err != nil {
				report.fail(orgID, "ledger reconcile failed", err)
				continue
			}
			report.ok()
			if !rec.Consistent() {
				report.drift()
				s.reportDrift(ctx, rec)
			}
		}
		if len(ids) < s.cfg.BatchSize {
			return nil
		}
		cursor = ids[len(ids)-1]
	}
}

func (s *Scheduler) fetchActiveOrganizations(ctx context.Context, after int64, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM organizations
		 WHERE is_active = ? AND id > ?
		 ORDER BY id
		 LIMIT ?`,
		true,
		after,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Scheduler) reportDrift(ctx context.Context, report ledgerdomain.ReconcileReport) {
	s.metrics.RecordLedgerDrift(ctx)
	reportFrom(ctx).logger(s.log).Error("ledger drift detected",
		zap.String("org_id", report.OrgID.String()),
		zap.Int64("balance", report.Balance),
		zap.Int64("sum", report.Sum),
		zap.Int64("drift", report.Drift),
		zap.Bool("security_event", true),
	)

	orgID := report.OrgID
	actorID := "scheduler"
	targetID := report.OrgID.String()
	auditdomain.LogAsync(ctx, s.auditSvc, s.log, auditdomain.Entry{
		OrgID:      &orgID,
		ActorType:  auditdomain.ActorTypeSystem,
		ActorID:    &actorID,
		Action:     "ledger.drift_detected",
		TargetType: "organization",
		TargetID:   &targetID,
		Metadata: map[string]any{
			"balance": report.Balance,
			"sum":     report.Sum,
			"drift":   report.Drift,
			"entries": report.Entries,
		},
	})
}
