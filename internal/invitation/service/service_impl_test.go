package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/authorization"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/config"
	"github.com/smallbiznis/callsight/internal/invitation/domain"
	"github.com/smallbiznis/callsight/internal/invitation/repository"
	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
	orgrepo "github.com/smallbiznis/callsight/internal/organization/repository"
	orgservice "github.com/smallbiznis/callsight/internal/organization/service"
	"github.com/smallbiznis/callsight/internal/providers/email"
	quotarepo "github.com/smallbiznis/callsight/internal/quota/repository"
	quotaservice "github.com/smallbiznis/callsight/internal/quota/service"
	"github.com/smallbiznis/callsight/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	orgID snowflake.ID
}

func setup(t *testing.T, tier string) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	plans := config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Cfg:   config.Config{Invitation: config.InvitationConfig{BaseURL: "https://app.test/invite/"}},
		Repo:  repository.Provide(),
		OrgSvc: orgservice.NewService(orgservice.Params{
			DB: db, Log: log, GenID: node, Clock: fake, Plans: plans, Repo: orgrepo.Provide(),
		}),
		QuotaSvc: quotaservice.NewService(quotaservice.Params{
			DB: db, Log: log, Clock: fake, Plans: plans, Repo: quotarepo.Provide(),
		}),
		Authz: authorization.NewService(authorization.Params{DB: db, Log: log, Enforcer: enforcer}),
		Email: &email.NoOpProvider{},
	})

	orgID := node.Generate()
	dbtest.SeedOrganization(t, db, orgID, tier, 0, fake.Now())
	dbtest.SeedMember(t, db, node.Generate(), orgID, "owner-1", "owner@acme.test", "OWNER")
	dbtest.SeedMember(t, db, node.Generate(), orgID, "member-1", "member@acme.test", "MEMBER")
	return &fixture{svc: svc, db: db, clock: fake, orgID: orgID}
}

func (f *fixture) invite(t *testing.T, address string) *domain.CreateResult {
	t.Helper()
	res, err := f.svc.Create(context.Background(), domain.CreateRequest{
		ActorUserID: "owner-1",
		ActorEmail:  "owner@acme.test",
		OrgID:       f.orgID,
		Email:       address,
		Role:        "member",
	})
	require.NoError(t, err)
	return res
}

func TestCreateStoresOnlyTokenHash(t *testing.T) {
	f := setup(t, "team")
	res := f.invite(t, "New.Person@Example.com")

	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "https://app.test/invite?token="+res.Token, res.InviteURL)
	assert.Equal(t, "new.person@example.com", res.Invitation.Email)
	assert.Equal(t, orgdomain.RoleMember, res.Invitation.Role)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), res.Invitation.ExpiresAt)

	assert.Equal(t, int64(0), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM invitations WHERE token_hash = ?", res.Token))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM invitations WHERE token_hash = ?", hashToken(res.Token)))
}

func TestCreateRequiresOwnerOrAdmin(t *testing.T) {
	f := setup(t, "team")
	_, err := f.svc.Create(context.Background(), domain.CreateRequest{
		ActorUserID: "member-1",
		OrgID:       f.orgID,
		Email:       "x@example.com",
	})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestCreateValidates(t *testing.T) {
	f := setup(t, "team")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateRequest{ActorUserID: "owner-1", OrgID: f.orgID, Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	_, err = f.svc.Create(ctx, domain.CreateRequest{ActorUserID: "owner-1", OrgID: f.orgID, Email: "a@b.co", Role: "owner"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestAcceptIsSingleUse(t *testing.T) {
	f := setup(t, "team")
	res := f.invite(t, "new@example.com")
	ctx := context.Background()

	member, err := f.svc.Accept(ctx, domain.AcceptRequest{UserID: "new-1", Email: "NEW@example.com", Token: res.Token})
	require.NoError(t, err)
	assert.Equal(t, f.orgID, member.OrgID)
	assert.Equal(t, orgdomain.RoleMember, member.Role)

	_, err = f.svc.Accept(ctx, domain.AcceptRequest{UserID: "new-1", Email: "new@example.com", Token: res.Token})
	assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM organization_members WHERE user_id = ?", "new-1"))
}

func TestAcceptConcurrentCallersAddOneMember(t *testing.T) {
	f := setup(t, "team")
	res := f.invite(t, "new@example.com")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Accept(ctx, domain.AcceptRequest{UserID: "new-1", Email: "new@example.com", Token: res.Token}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM organization_members WHERE user_id = ?", "new-1"))
}

func TestAcceptRejectsExpiredAndMismatchedEmail(t *testing.T) {
	f := setup(t, "team")
	res := f.invite(t, "new@example.com")
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, domain.AcceptRequest{UserID: "new-1", Email: "other@example.com", Token: res.Token})
	assert.ErrorIs(t, err, domain.ErrEmailMismatch)

	f.clock.Advance(7*24*time.Hour + time.Second)
	_, err = f.svc.Accept(ctx, domain.AcceptRequest{UserID: "new-1", Email: "new@example.com", Token: res.Token})
	assert.ErrorIs(t, err, domain.ErrInvitationNotFound)

	_, err = f.svc.Accept(ctx, domain.AcceptRequest{UserID: "new-1", Email: "new@example.com", Token: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
}

func TestAcceptEnforcesSeatLimit(t *testing.T) {
	// individual allows one seat, already taken by the owner.
	f := setup(t, "individual")
	require.NoError(t, f.db.Exec("DELETE FROM organization_members WHERE user_id = ?", "member-1").Error)
	res := f.invite(t, "new@example.com")

	_, err := f.svc.Accept(context.Background(), domain.AcceptRequest{UserID: "new-1", Email: "new@example.com", Token: res.Token})
	assert.ErrorIs(t, err, domain.ErrSeatLimitReached)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "SELECT COUNT(*) FROM invitations WHERE accepted_at IS NULL"))
}

func TestListPending(t *testing.T) {
	f := setup(t, "team")
	first := f.invite(t, "a@example.com")
	f.invite(t, "b@example.com")
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, domain.AcceptRequest{UserID: "a-1", Email: "a@example.com", Token: first.Token})
	require.NoError(t, err)

	pending, err := f.svc.ListPending(ctx, "owner-1", f.orgID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b@example.com", pending[0].Email)

	_, err = f.svc.ListPending(ctx, "member-1", f.orgID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}
