package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theinterviewer/backend/internal/models"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func (r *PaymentRepo) Create(ctx context.Context, p *models.Payment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, user_id, gateway_order_id, credits, amount_minor, currency, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, p.ID, p.UserID, p.GatewayOrderID, p.Credits, p.AmountMinor, p.Currency, p.IdempotencyKey, p.Status).Scan(&p.CreatedAt)
}

func (r *PaymentRepo) GetByOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var p models.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, gateway_order_id, gateway_payment_id, gateway_signature,
		       credits, amount_minor, currency, idempotency_key, status, created_at, completed_at
		FROM payments WHERE gateway_order_id = $1
	`, gatewayOrderID).Scan(&p.ID, &p.UserID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.GatewaySignature,
		&p.Credits, &p.AmountMinor, &p.Currency, &p.IdempotencyKey, &p.Status, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkFailed moves a non-terminal payment to FAILED. Terminal rows are left alone.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2
		WHERE id = $1 AND status = $3
	`, id, models.PaymentStatusFailed, models.PaymentStatusCreated)
	return err
}

// ClaimSuccessTx is the settlement gate: a compare-and-swap on status. It
// transitions CREATED -> SUCCESS and records the gateway payment id, the
// signature, and completed_at. Returns false when another caller already moved
// the row out of CREATED. Call within the transaction that applies the credit.
func (r *PaymentRepo) ClaimSuccessTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, gatewayPaymentID string, signature *string, completedAt time.Time) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, gateway_payment_id = $3, gateway_signature = $4, completed_at = $5
		WHERE id = $1 AND status = $6
	`, id, models.PaymentStatusSuccess, gatewayPaymentID, signature, completedAt, models.PaymentStatusCreated)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ExpireStale marks CREATED payments older than cutoff as FAILED and returns
// the order ids it touched.
func (r *PaymentRepo) ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE payments SET status = $1
		WHERE status = $2 AND created_at < $3
		RETURNING gateway_order_id
	`, models.PaymentStatusFailed, models.PaymentStatusCreated, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, id)
	}
	return orderIDs, rows.Err()
}
