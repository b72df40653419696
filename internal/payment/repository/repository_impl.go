package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/callsight/internal/payment/domain"
	"github.com/smallbiznis/callsight/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertReceipt writes the receipt unless payment_id or invoice_number is
// already taken. Callers tell the two apart with FindReceiptByPaymentID.
func (r *repo) InsertReceipt(ctx context.Context, tx *gorm.DB, receipt *domain.Receipt) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO payment_receipts (
			id, org_id, payment_id, order_id, invoice_number, amount, currency,
			payment_type, status, invoice_data, metadata, credit_transaction_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		receipt.ID,
		receipt.OrgID,
		receipt.PaymentID,
		receipt.OrderID,
		receipt.InvoiceNumber,
		receipt.Amount,
		receipt.Currency,
		string(receipt.PaymentType),
		string(receipt.Status),
		receipt.InvoiceData,
		receipt.Metadata,
		receipt.CreditTransactionID,
		receipt.CreatedAt,
		receipt.UpdatedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindReceiptByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) (*domain.Receipt, error) {
	var receipt domain.Receipt
	err := tx.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
