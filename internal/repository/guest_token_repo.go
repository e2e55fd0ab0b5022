package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"fiscalhost/internal/domain"
)

type GuestTokenRepository interface {
	Create(ctx context.Context, token domain.GuestToken) error
	GetByValue(ctx context.Context, value string) (domain.GuestToken, error)
	ListByValues(ctx context.Context, values []string) ([]domain.GuestToken, error)
	DeleteByAccountIDs(ctx context.Context, accountIDs []string, deletedAt time.Time) error
}

type PgGuestTokenRepository struct {
	db DBTX
}

func NewPgGuestTokenRepository(db DBTX) *PgGuestTokenRepository {
	return &PgGuestTokenRepository{db: db}
}

func (r *PgGuestTokenRepository) Create(ctx context.Context, token domain.GuestToken) error {
	const query = `
		INSERT INTO guest_tokens (id, account_id, value, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query,
		token.ID,
		token.AccountID,
		token.Value,
		token.CreatedAt,
	)
	return err
}

func (r *PgGuestTokenRepository) GetByValue(ctx context.Context, value string) (domain.GuestToken, error) {
	const query = `
		SELECT id, account_id, value, created_at
		FROM guest_tokens
		WHERE value = $1 AND deleted_at IS NULL
	`
	var t domain.GuestToken
	err := r.db.QueryRow(ctx, query, value).Scan(&t.ID, &t.AccountID, &t.Value, &t.CreatedAt)
	if err != nil {
		return domain.GuestToken{}, err
	}
	return t, nil
}

func (r *PgGuestTokenRepository) ListByValues(ctx context.Context, values []string) ([]domain.GuestToken, error) {
	if len(values) == 0 {
		return nil, nil
	}
	const query = `
		SELECT id, account_id, value, created_at
		FROM guest_tokens
		WHERE value = ANY($1) AND deleted_at IS NULL
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, values)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GuestToken, error) {
		var t domain.GuestToken
		err := row.Scan(&t.ID, &t.AccountID, &t.Value, &t.CreatedAt)
		return t, err
	})
}

// DeleteByAccountIDs hace soft delete de todos los tokens vivos de las cuentas.
func (r *PgGuestTokenRepository) DeleteByAccountIDs(ctx context.Context, accountIDs []string, deletedAt time.Time) error {
	if len(accountIDs) == 0 {
		return nil
	}
	const query = `
		UPDATE guest_tokens
		SET deleted_at = $2
		WHERE account_id = ANY($1::uuid[]) AND deleted_at IS NULL
	`
	_, err := r.db.Exec(ctx, query, accountIDs, deletedAt)
	return err
}
