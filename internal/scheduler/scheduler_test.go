package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/clock"
	ledgerdomain "github.com/smallbiznis/callsight/internal/ledger/domain"
	"github.com/smallbiznis/callsight/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeLedger struct {
	ledgerdomain.Service
	drift      map[snowflake.ID]int64
	fail       map[snowflake.ID]bool
	reconciled []snowflake.ID
}

func (f *fakeLedger) Reconcile(_ context.Context, orgID snowflake.ID) (ledgerdomain.ReconcileReport, error) {
	f.reconciled = append(f.reconciled, orgID)
	if f.fail[orgID] {
		return ledgerdomain.ReconcileReport{}, errors.New("boom")
	}
	return ledgerdomain.ReconcileReport{OrgID: orgID, Balance: 10, Sum: 10 - f.drift[orgID], Drift: f.drift[orgID]}, nil
}

func newTestScheduler(t *testing.T, db *gorm.DB, ledger ledgerdomain.Service, batchSize int) *Scheduler {
	t.Helper()
	s, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     dbtest.Node(t),
		Clock:     clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		LedgerSvc: ledger,
		Config:    Config{BatchSize: batchSize},
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestLedgerReconcileJobWalksActiveOrganizations(t *testing.T) {
	db := dbtest.Open(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []snowflake.ID{101, 102, 103, 104} {
		dbtest.SeedOrganization(t, db, id, "free", 10, start)
	}
	if err := db.Exec(`UPDATE organizations SET is_active = ? WHERE id = ?`, false, 103).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	ledger := &fakeLedger{drift: map[snowflake.ID]int64{102: 5}}
	s := newTestScheduler(t, db, ledger, 1)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	want := []snowflake.ID{101, 102, 104}
	if len(ledger.reconciled) != len(want) {
		t.Fatalf("expected %v reconciled, got %v", want, ledger.reconciled)
	}
	for i, id := range want {
		if ledger.reconciled[i] != id {
			t.Fatalf("expected %v reconciled, got %v", want, ledger.reconciled)
		}
	}
}

func TestLedgerReconcileJobContinuesPastFailures(t *testing.T) {
	db := dbtest.Open(t)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	dbtest.SeedOrganization(t, db, 201, "pro", 0, start)
	dbtest.SeedOrganization(t, db, 202, "pro", 0, start)

	ledger := &fakeLedger{fail: map[snowflake.ID]bool{201: true}}
	s := newTestScheduler(t, db, ledger, 10)

	ctx, report := s.beginRun(context.Background(), jobLedgerReconcile, 10)
	if err := s.LedgerReconcileJob(ctx); err != nil {
		t.Fatalf("reconcile job: %v", err)
	}
	if report.failed != 1 || report.reconciled != 1 {
		t.Fatalf("expected 1 failure and 1 reconciled, got %d and %d", report.failed, report.reconciled)
	}
	if len(ledger.reconciled) != 2 {
		t.Fatalf("expected both organizations visited, got %v", ledger.reconciled)
	}
}

func TestRunJobTimeoutDoesNotReturnError(t *testing.T) {
	s := newTestScheduler(t, dbtest.Open(t), &fakeLedger{}, 1)

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRunJobWrapsFailures(t *testing.T) {
	s := newTestScheduler(t, dbtest.Open(t), &fakeLedger{}, 1)
	boom := errors.New("boom")

	err := s.runJob(context.Background(), "failing_job", 0, time.Second, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestLedgerReconcileJobCountsDrift(t *testing.T) {
	db := dbtest.Open(t)
	dbtest.SeedOrganization(t, db, 301, "pay_as_you_go", 10, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	s := newTestScheduler(t, db, &fakeLedger{drift: map[snowflake.ID]int64{301: -3}}, 10)
	ctx, report := s.beginRun(context.Background(), jobLedgerReconcile, 10)
	if err := s.LedgerReconcileJob(ctx); err != nil {
		t.Fatalf("reconcile job: %v", err)
	}
	if report.drifted != 1 {
		t.Fatalf("expected 1 drifted organization, got %d", report.drifted)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
