package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theinterviewer/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, delta, balance_after, type, description, payment_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.UserID, t.Delta, t.BalanceAfter, t.Type, t.Description, t.PaymentID, t.SessionID).Scan(&t.CreatedAt)
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, delta, balance_after, type, description, payment_id, session_id, created_at
		FROM credit_transactions WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Delta, &t.BalanceAfter, &t.Type, &t.Description, &t.PaymentID, &t.SessionID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByUserID returns a user's ledger newest first. limit <= 0 means no limit.
func (r *TransactionRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	q := `
		SELECT id, user_id, delta, balance_after, type, description, payment_id, session_id, created_at
		FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.BalanceAfter, &t.Type, &t.Description, &t.PaymentID, &t.SessionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (r *TransactionRepo) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, balance_after, type, description, payment_id, session_id, created_at
		FROM credit_transactions WHERE payment_id = $1 ORDER BY created_at DESC
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.BalanceAfter, &t.Type, &t.Description, &t.PaymentID, &t.SessionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
