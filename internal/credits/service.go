package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/theinterviewer/backend/internal/models"
)

// ErrInsufficientBalance is returned when a debit exceeds the current balance.
var ErrInsufficientBalance = errors.New("insufficient credit balance")

// ErrUserNotFound is returned when the user row does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("amount must be > 0")

// Ref points a ledger entry at the payment or interview session that caused it.
type Ref struct {
	PaymentID *uuid.UUID
	SessionID *uuid.UUID
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepo is the minimal user repository interface for the ledger.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// TransactionRepo is the minimal append-only log interface for the ledger.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
}

// Service owns the user balance. Every mutation locks the user row
// (SELECT FOR UPDATE), applies the delta, and appends a ledger entry in the
// same transaction, so the two commit together or not at all.
type Service struct {
	pool   TxBeginner
	users  UserRepo
	ledger TransactionRepo
}

func NewService(pool TxBeginner, users UserRepo, ledger TransactionRepo) *Service {
	return &Service{pool: pool, users: users, ledger: ledger}
}

// GetBalance reads the user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Credits, nil
}

// HasSufficient reports whether the user can afford amount.
func (s *Service) HasSufficient(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Debit atomically deducts amount and appends a ledger entry with a negative
// delta. Fails with ErrInsufficientBalance and no side effects when the
// balance is too low.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, amount int, txType, description string, ref Ref) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.DebitTx(ctx, tx, userID, amount, txType, description, ref)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Credit atomically adds amount and appends a ledger entry with a positive delta.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amount int, txType, description string, ref Ref) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.CreditTx(ctx, tx, userID, amount, txType, description, ref)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// DebitTx runs inside the caller's transaction. It locks the user row,
// verifies the balance, deducts, and appends the ledger entry.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, txType, description string, ref Ref) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	user, err := s.users.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	if user.Credits < amount {
		return 0, ErrInsufficientBalance
	}
	newBalance, err := s.users.DeductCredits(ctx, tx, userID, amount)
	if err != nil {
		return 0, err
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Delta:        -amount,
		BalanceAfter: newBalance,
		Type:         txType,
		Description:  description,
		PaymentID:    ref.PaymentID,
		SessionID:    ref.SessionID,
	}
	if err := s.ledger.CreateTx(ctx, tx, entry); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// CreditTx runs inside the caller's transaction, locking the user row first.
// The settlement engine uses it so the payment status claim and the credit
// commit together.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, txType, description string, ref Ref) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if _, err := s.users.GetByIDForUpdate(ctx, tx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	newBalance, err := s.users.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return 0, err
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Delta:        amount,
		BalanceAfter: newBalance,
		Type:         txType,
		Description:  description,
		PaymentID:    ref.PaymentID,
		SessionID:    ref.SessionID,
	}
	if err := s.ledger.CreateTx(ctx, tx, entry); err != nil {
		return 0, err
	}
	return newBalance, nil
}
