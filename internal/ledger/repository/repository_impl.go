package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callsight/internal/ledger/domain"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent reports whether the row was written; false means the
	// idempotency key already exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Transaction, error)
	AdjustBalance(ctx context.Context, db *gorm.DB, orgID snowflake.ID, delta int64) (int64, error)
	Balance(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, bool, error)
	SetBalanceAfter(ctx context.Context, db *gorm.DB, id snowflake.ID, balance int64) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]domain.Transaction, error)
	Sum(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (sum int64, entries int64, err error)
}

type ListFilter struct {
	OrgID          snowflake.ID
	AfterCreatedAt *time.Time
	AfterID        snowflake.ID
	Limit          int
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (
			id, org_id, type, credits, amount_paid, currency, description, metadata,
			idempotency_key, balance_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		txn.ID, txn.OrgID, string(txn.Type), txn.Credits, txn.AmountPaid, txn.Currency,
		txn.Description, txn.Metadata, txn.IdempotencyKey, txn.BalanceAfter, txn.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// AdjustBalance applies delta only when the result stays non-negative. Zero
// rows affected means the org is missing or the balance is too low.
func (r *repo) AdjustBalance(ctx context.Context, db *gorm.DB, orgID snowflake.ID, delta int64) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET credits_balance = credits_balance + ?, updated_at = ?
		 WHERE id = ? AND credits_balance + ? >= 0`,
		delta, time.Now().UTC(), orgID, delta,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, bool, error) {
	var rows []int64
	err := db.WithContext(ctx).Raw(`SELECT credits_balance FROM organizations WHERE id = ?`, orgID).Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return 0, false, err
	}
	return rows[0], true, nil
}

func (r *repo) SetBalanceAfter(ctx context.Context, db *gorm.DB, id snowflake.ID, balance int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_transactions SET balance_after = ? WHERE id = ?`, balance, id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]domain.Transaction, error) {
	query := db.WithContext(ctx).Model(&domain.Transaction{}).Where("org_id = ?", filter.OrgID)
	if filter.AfterCreatedAt != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			*filter.AfterCreatedAt, *filter.AfterCreatedAt, filter.AfterID)
	}
	var items []domain.Transaction
	err := query.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Find(&items).Error
	return items, err
}

func (r *repo) Sum(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, int64, error) {
	var out struct {
		Total   int64
		Entries int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(credits), 0) AS total, COUNT(1) AS entries FROM credit_transactions WHERE org_id = ?`,
		orgID,
	).Scan(&out).Error
	return out.Total, out.Entries, err
}
