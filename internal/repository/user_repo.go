package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"fiscalhost/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByAccountID(ctx context.Context, accountID string) (domain.User, error)
	GetByConfirmationToken(ctx context.Context, token string) (domain.User, error)
	// Confirm marca al usuario como confirmado y consume el token. Devuelve
	// pgx.ErrNoRows si ya estaba confirmado.
	Confirm(ctx context.Context, id string, confirmedAt time.Time) error
}

// PgUserRepository implementa UserRepository usando pgx.
type PgUserRepository struct {
	db DBTX
}

func NewPgUserRepository(db DBTX) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `id, account_id, email, confirmed_at, COALESCE(email_confirmation_token, ''), created_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, account_id, email, confirmed_at, email_confirmation_token, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.AccountID,
		user.Email,
		user.ConfirmedAt,
		user.EmailConfirmationToken,
		user.CreatedAt,
	)
	return err
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + `
		FROM users
		WHERE email = $1 AND deleted_at IS NULL
	`
	return r.scanOne(ctx, query, email)
}

func (r *PgUserRepository) GetByAccountID(ctx context.Context, accountID string) (domain.User, error) {
	const query = `SELECT ` + userColumns + `
		FROM users
		WHERE account_id = $1 AND deleted_at IS NULL
	`
	return r.scanOne(ctx, query, accountID)
}

func (r *PgUserRepository) GetByConfirmationToken(ctx context.Context, token string) (domain.User, error) {
	const query = `SELECT ` + userColumns + `
		FROM users
		WHERE email_confirmation_token = $1 AND deleted_at IS NULL
	`
	return r.scanOne(ctx, query, token)
}

func (r *PgUserRepository) Confirm(ctx context.Context, id string, confirmedAt time.Time) error {
	const query = `
		UPDATE users
		SET confirmed_at = $2, email_confirmation_token = NULL
		WHERE id = $1 AND confirmed_at IS NULL AND deleted_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, confirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) scanOne(ctx context.Context, query string, arg any) (domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.AccountID,
		&u.Email,
		&u.ConfirmedAt,
		&u.EmailConfirmationToken,
		&u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}
