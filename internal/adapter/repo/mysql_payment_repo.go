package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/usecase"
)

type MySQLPaymentRepo struct{ db *sql.DB }

func NewMySQLPaymentRepo(db *sql.DB) *MySQLPaymentRepo { return &MySQLPaymentRepo{db: db} }

const paymentCols = `id,order_id,provider_code,external_id,amount,currency,status,raw_response,failure_reason,created_at,updated_at,captured_at`

func (r *MySQLPaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO payments (`+paymentCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, p.ID, p.OrderID, p.ProviderCode, nullStr(p.ExternalID), p.Amount, p.Currency,
		string(p.Status), nullBytes(p.RawResponse), p.FailureReason, p.CreatedAt, p.UpdatedAt, p.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *MySQLPaymentRepo) scanPayment(row *sql.Row) (*domain.Payment, error) {
	var (
		p          domain.Payment
		externalID sql.NullString
		status     string
		raw        []byte
		capturedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.ProviderCode, &externalID, &p.Amount, &p.Currency,
		&status, &raw, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &capturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.ExternalID = externalID.String
	p.Status = domain.PaymentStatus(status)
	p.RawResponse = raw
	if capturedAt.Valid {
		t := capturedAt.Time
		p.CapturedAt = &t
	}
	return &p, nil
}

func (r *MySQLPaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.scanPayment(r.db.QueryRowContext(ctx, `
SELECT `+paymentCols+` FROM payments WHERE id=?`, id))
}

func (r *MySQLPaymentRepo) FindOpenByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.scanPayment(r.db.QueryRowContext(ctx, `
SELECT `+paymentCols+` FROM payments
WHERE order_id=? AND status IN ('initiated','authorized')
ORDER BY created_at DESC LIMIT 1`, orderID))
}

func (r *MySQLPaymentRepo) FindByProviderRef(ctx context.Context, providerCode, externalID string) (*domain.Payment, error) {
	return r.scanPayment(r.db.QueryRowContext(ctx, `
SELECT `+paymentCols+` FROM payments
WHERE provider_code=? AND external_id=?
ORDER BY created_at DESC LIMIT 1`, providerCode, externalID))
}

func (r *MySQLPaymentRepo) UpdateStatus(ctx context.Context, p *domain.Payment) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE payments SET status=?, external_id=?, raw_response=?, failure_reason=?, captured_at=?, updated_at=?
WHERE id=?`,
		string(p.Status), nullStr(p.ExternalID), nullBytes(p.RawResponse), p.FailureReason, p.CapturedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MySQLPaymentRepo) AddTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO payment_transactions (id,payment_id,type,external_id,amount,currency,success,duplicate,error_message,raw,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.PaymentID, string(t.Type), nullStr(t.ExternalID), t.Amount, t.Currency,
		t.Success, t.Duplicate, t.ErrorMessage, nullBytes(t.Raw), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *MySQLPaymentRepo) Transactions(ctx context.Context, paymentID string) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,payment_id,type,external_id,amount,currency,success,duplicate,error_message,raw,created_at
FROM payment_transactions WHERE payment_id=? ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t          domain.Transaction
			typ        string
			externalID sql.NullString
			raw        []byte
		)
		if err := rows.Scan(&t.ID, &t.PaymentID, &typ, &externalID, &t.Amount, &t.Currency,
			&t.Success, &t.Duplicate, &t.ErrorMessage, &raw, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = domain.TransactionType(typ)
		t.ExternalID = externalID.String
		t.Raw = raw
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ usecase.PaymentRepo = (*MySQLPaymentRepo)(nil)
