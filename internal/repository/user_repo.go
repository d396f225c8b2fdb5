package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theinterviewer/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password_hash, credits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING version, created_at, updated_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Credits).Scan(&u.Version, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, credits, version, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Credits, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, credits, version, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Credits, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByIDForUpdate locks the user row for update. Call within a transaction.
func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := tx.QueryRow(ctx, `
		SELECT id, email, name, password_hash, credits, version, created_at, updated_at
		FROM users WHERE id = $1 FOR UPDATE
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Credits, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DeductCredits atomically deducts amount if credits >= amount. Returns new balance or error.
func (r *UserRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE users SET credits = credits - $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND credits >= $1
		RETURNING credits
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// AddCredits adds amount to the user and returns the new balance.
func (r *UserRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE users SET credits = credits + $1, version = version + 1, updated_at = now()
		WHERE id = $2
		RETURNING credits
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}
