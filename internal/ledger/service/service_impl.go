package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/clock"
	"github.com/smallbiznis/callsight/internal/ledger/domain"
	"github.com/smallbiznis/callsight/internal/ledger/repository"
	"github.com/smallbiznis/callsight/internal/observability/metrics"
	"github.com/smallbiznis/callsight/pkg/db/pagination"
	"github.com/smallbiznis/callsight/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    repository.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    repository.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) ApplyDelta(ctx context.Context, req domain.ApplyDeltaRequest) (domain.ApplyDeltaResult, error) {
	var result domain.ApplyDeltaResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ApplyDeltaTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.ApplyDeltaResult{}, err
	}
	return result, nil
}

// ApplyDeltaTx appends one ledger row and moves the cached balance by the
// same amount. The idempotency key insert is the arbiter: a second call with
// the same key returns the first row and leaves the balance alone.
func (s *Service) ApplyDeltaTx(ctx context.Context, tx *gorm.DB, req domain.ApplyDeltaRequest) (domain.ApplyDeltaResult, error) {
	if req.OrgID == 0 {
		return domain.ApplyDeltaResult{}, domain.ErrInvalidOrganization
	}
	if err := req.Kind.ValidateDelta(req.Delta); err != nil {
		return domain.ApplyDeltaResult{}, err
	}
	key := normalizeKey(req.IdempotencyKey)

	if err := rls.WithTenant(tx, int64(req.OrgID)); err != nil {
		return domain.ApplyDeltaResult{}, err
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		if k != "" {
			metadata[k] = v
		}
	}
	txn := &domain.Transaction{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		Type:           req.Kind,
		Credits:        req.Delta,
		AmountPaid:     req.AmountPaid,
		Currency:       req.Currency,
		Description:    strings.TrimSpace(req.Description),
		Metadata:       metadata,
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now().UTC(),
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, tx, txn)
	if err != nil {
		return domain.ApplyDeltaResult{}, err
	}
	if !inserted {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, *key)
		if err != nil {
			return domain.ApplyDeltaResult{}, err
		}
		if existing == nil || existing.OrgID != req.OrgID {
			return domain.ApplyDeltaResult{}, domain.ErrIdempotencyConflict
		}
		s.log.Info("ledger delta already applied",
			zap.String("org_id", req.OrgID.String()),
			zap.String("transaction_id", existing.ID.String()),
			zap.String("idempotency_key", *key),
		)
		return domain.ApplyDeltaResult{
			TransactionID: existing.ID,
			BalanceAfter:  existing.BalanceAfter,
			Applied:       false,
		}, nil
	}

	affected, err := s.repo.AdjustBalance(ctx, tx, req.OrgID, req.Delta)
	if err != nil {
		return domain.ApplyDeltaResult{}, err
	}
	if affected == 0 {
		_, found, err := s.repo.Balance(ctx, tx, req.OrgID)
		if err != nil {
			return domain.ApplyDeltaResult{}, err
		}
		if !found {
			return domain.ApplyDeltaResult{}, domain.ErrOrganizationNotFound
		}
		return domain.ApplyDeltaResult{}, domain.ErrInsufficientCredits
	}

	balance, _, err := s.repo.Balance(ctx, tx, req.OrgID)
	if err != nil {
		return domain.ApplyDeltaResult{}, err
	}
	if err := s.repo.SetBalanceAfter(ctx, tx, txn.ID, balance); err != nil {
		return domain.ApplyDeltaResult{}, err
	}

	s.metrics.RecordLedgerEntry(ctx, string(req.Kind), req.Delta)
	s.log.Info("ledger delta applied",
		zap.String("org_id", req.OrgID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("kind", string(req.Kind)),
		zap.Int64("delta", req.Delta),
		zap.Int64("balance_after", balance),
	)
	return domain.ApplyDeltaResult{
		TransactionID: txn.ID,
		BalanceAfter:  balance,
		Applied:       true,
	}, nil
}

func (s *Service) Balance(ctx context.Context, orgID snowflake.ID) (int64, error) {
	balance, found, err := s.repo.Balance(ctx, s.db, orgID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.ErrOrganizationNotFound
	}
	return balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	if req.OrgID == 0 {
		return domain.ListTransactionsResponse{}, domain.ErrInvalidOrganization
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	limit := req.Limit()
	filter := repository.ListFilter{OrgID: req.OrgID, Limit: limit + 1}
	if cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		filter.AfterCreatedAt = &createdAt
		filter.AfterID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	items, info := pagination.Page(items, limit, func(t domain.Transaction) pagination.Cursor {
		return pagination.Cursor{ID: t.ID.String(), CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	return domain.ListTransactionsResponse{PageInfo: info, Transactions: items}, nil
}

// Reconcile reports drift between credits_balance and the ledger sum. A
// non-zero drift is logged at error level; it should never happen.
func (s *Service) Reconcile(ctx context.Context, orgID snowflake.ID) (domain.ReconcileReport, error) {
	var report domain.ReconcileReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, found, err := s.repo.Balance(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrOrganizationNotFound
		}
		sum, entries, err := s.repo.Sum(ctx, tx, orgID)
		if err != nil {
			return err
		}
		report = domain.ReconcileReport{
			OrgID:   orgID,
			Balance: balance,
			Sum:     sum,
			Drift:   balance - sum,
			Entries: entries,
		}
		return nil
	})
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	if !report.Consistent() {
		s.log.Error("ledger drift detected",
			zap.String("org_id", orgID.String()),
			zap.Int64("balance", report.Balance),
			zap.Int64("sum", report.Sum),
		)
	}
	return report, nil
}

func normalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
