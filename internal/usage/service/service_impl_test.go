package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	ledgerrepo "github.com/smallbiznis/callsight/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/callsight/internal/ledger/service"
	quotadomain "github.com/smallbiznis/callsight/internal/quota/domain"
	quotarepo "github.com/smallbiznis/callsight/internal/quota/repository"
	quotaservice "github.com/smallbiznis/callsight/internal/quota/service"
	usagedomain "github.com/smallbiznis/callsight/internal/usage/domain"
	"github.com/smallbiznis/callsight/internal/usage/repository"
	"github.com/smallbiznis/callsight/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupUsage(t *testing.T, tier string, credits int64) (usagedomain.Service, *gorm.DB, snowflake.ID) {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	fake := clock.NewFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	quotaSvc := quotaservice.NewService(quotaservice.Params{
		DB:    db,
		Log:   log,
		Clock: fake,
		Plans: config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()),
		Repo:  quotarepo.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: ledgerrepo.Provide(),
	})
	svc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Repo:      repository.Provide(),
		QuotaSvc:  quotaSvc,
		LedgerSvc: ledgerSvc,
	})

	orgID := node.Generate()
	dbtest.SeedOrganization(t, db, orgID, tier, credits, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return svc, db, orgID
}

func analyze(orgID snowflake.ID, id string) usagedomain.BillableAction {
	return usagedomain.BillableAction{
		ID:           id,
		OrgID:        orgID,
		UserID:       "user_1",
		Action:       "call.analyze",
		Resource:     quotadomain.ResourceCalls,
		Units:        1,
		ResourceType: "call",
		ResourceID:   "call_1",
	}
}

func TestRunBillableFreeTierBoundary(t *testing.T) {
	svc, db, orgID := setupUsage(t, "free", 0)
	ctx := context.Background()
	require.NoError(t, db.Exec("UPDATE organizations SET calls_used = 9 WHERE id = ?", orgID).Error)

	ran := 0
	work := func(context.Context) error { ran++; return nil }

	res, err := svc.RunBillable(ctx, analyze(orgID, "a1"), work)
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
	assert.False(t, res.Charged)
	assert.Equal(t, int64(10), dbtest.Count(t, db, "SELECT calls_used FROM organizations WHERE id = ?", orgID))

	res, err = svc.RunBillable(ctx, analyze(orgID, "a2"), work)
	assert.ErrorIs(t, err, quotadomain.ErrQuotaExceeded)
	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, 1, ran)
	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(*) FROM usage_logs WHERE org_id = ?", orgID))
}

func TestRunBillableFailedWorkIsNotCharged(t *testing.T) {
	svc, db, orgID := setupUsage(t, "individual", 0)
	boom := errors.New("model unavailable")

	_, err := svc.RunBillable(context.Background(), analyze(orgID, "a1"), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), dbtest.Count(t, db, "SELECT calls_used FROM organizations WHERE id = ?", orgID))
	assert.Equal(t, int64(0), dbtest.Count(t, db, "SELECT COUNT(*) FROM usage_logs"))
}

func TestRunBillablePayAsYouGoDebitsCredits(t *testing.T) {
	svc, db, orgID := setupUsage(t, "pay_as_you_go", 0)
	ctx := context.Background()
	require.NoError(t, db.Exec("UPDATE organizations SET credits_balance = 2 WHERE id = ?", orgID).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO credit_transactions (id, org_id, type, credits, description, metadata, idempotency_key, balance_after, created_at)
		 VALUES (1, ?, 'purchase', 2, 'seed', '{}', 'pay_seed', 2, ?)`, orgID, time.Now().UTC(),
	).Error)

	res, err := svc.RunBillable(ctx, analyze(orgID, "a1"), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, res.Charged)
	assert.Equal(t, int64(1), res.BalanceAfter)
	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(*) FROM credit_transactions WHERE idempotency_key = ?", fmt.Sprintf("usage:%d:a1", orgID)))
	assert.Equal(t, int64(0), dbtest.Count(t, db, "SELECT calls_used FROM organizations WHERE id = ?", orgID))

	_, err = svc.RunBillable(ctx, analyze(orgID, "a2"), func(context.Context) error { return nil })
	require.NoError(t, err)

	_, err = svc.RunBillable(ctx, analyze(orgID, "a3"), func(context.Context) error {
		t.Fatal("work must not run without credits")
		return nil
	})
	assert.ErrorIs(t, err, quotadomain.ErrQuotaExceeded)
	assert.Equal(t, int64(0), dbtest.Count(t, db, "SELECT credits_balance FROM organizations WHERE id = ?", orgID))
	assert.Equal(t, int64(0), dbtest.Count(t, db, "SELECT SUM(credits) FROM credit_transactions WHERE org_id = ?", orgID))
}

func TestRunBillableReplayedIDRunsWorkOnce(t *testing.T) {
	svc, db, orgID := setupUsage(t, "pay_as_you_go", 5)
	ctx := context.Background()

	ran := 0
	work := func(context.Context) error { ran++; return nil }

	first, err := svc.RunBillable(ctx, analyze(orgID, "same-key"), work)
	require.NoError(t, err)
	assert.True(t, first.Charged)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(4), first.BalanceAfter)

	for i := 0; i < 9; i++ {
		again, err := svc.RunBillable(ctx, analyze(orgID, "same-key"), work)
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.True(t, again.Charged)
		assert.Equal(t, int64(4), again.BalanceAfter)
		assert.Equal(t, "same-key", again.ActionID)
	}

	assert.Equal(t, 1, ran)
	assert.Equal(t, int64(4), dbtest.Count(t, db, "SELECT credits_balance FROM organizations WHERE id = ?", orgID))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(*) FROM usage_logs WHERE org_id = ?", orgID))
}

func TestRunBillableIDsAreScopedPerOrganization(t *testing.T) {
	svc, db, orgA := setupUsage(t, "pay_as_you_go", 3)
	orgB := orgA + 1
	dbtest.SeedOrganization(t, db, orgB, "pay_as_you_go", 3, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	ran := 0
	work := func(context.Context) error { ran++; return nil }

	resA, err := svc.RunBillable(ctx, analyze(orgA, "shared"), work)
	require.NoError(t, err)
	resB, err := svc.RunBillable(ctx, analyze(orgB, "shared"), work)
	require.NoError(t, err)

	assert.Equal(t, 2, ran)
	assert.True(t, resA.Charged)
	assert.True(t, resB.Charged)
	assert.False(t, resB.Replayed)
	assert.Equal(t, int64(2), dbtest.Count(t, db, "SELECT credits_balance FROM organizations WHERE id = ?", orgA))
	assert.Equal(t, int64(2), dbtest.Count(t, db, "SELECT credits_balance FROM organizations WHERE id = ?", orgB))
}

func TestRunBillableFailedWorkCanBeRetried(t *testing.T) {
	svc, _, orgID := setupUsage(t, "team", 0)
	ctx := context.Background()

	_, err := svc.RunBillable(ctx, analyze(orgID, "retry-me"), func(context.Context) error { return errors.New("timeout") })
	require.Error(t, err)

	ran := false
	res, err := svc.RunBillable(ctx, analyze(orgID, "retry-me"), func(context.Context) error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, res.Replayed)
}

func TestRunBillableGeneratesActionID(t *testing.T) {
	svc, _, orgID := setupUsage(t, "team", 0)

	res, err := svc.RunBillable(context.Background(), analyze(orgID, ""), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Len(t, res.ActionID, 26)
}

func TestRecordValidates(t *testing.T) {
	svc, db, orgID := setupUsage(t, "free", 0)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Record(ctx, usagedomain.Event{Action: "x", Units: 1}), usagedomain.ErrInvalidOrganization)
	assert.ErrorIs(t, svc.Record(ctx, usagedomain.Event{OrgID: orgID, Units: 1}), usagedomain.ErrInvalidAction)
	assert.ErrorIs(t, svc.Record(ctx, usagedomain.Event{OrgID: orgID, Action: "x"}), usagedomain.ErrInvalidUnits)

	require.NoError(t, svc.Record(ctx, usagedomain.Event{OrgID: orgID, Action: "storage.upload", Units: 12, Metadata: map[string]any{"file": "a.mp3"}}))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(*) FROM usage_logs WHERE resource_type = ?", "storage.upload"))
}
