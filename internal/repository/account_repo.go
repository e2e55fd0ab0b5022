package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"fiscalhost/internal/domain"
)

// AccountRepository define el contrato de persistencia para cuentas.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (domain.Account, error)
	Update(ctx context.Context, account domain.Account) error
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type PgAccountRepository struct {
	db DBTX
}

func NewPgAccountRepository(db DBTX) *PgAccountRepository {
	return &PgAccountRepository{db: db}
}

func (r *PgAccountRepository) Create(ctx context.Context, account domain.Account) error {
	data, err := marshalData(account.Data)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO accounts (id, type, name, slug, is_guest, location_name, address, country,
			data, created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		account.ID,
		account.Type,
		account.Name,
		account.Slug,
		account.IsGuest,
		account.Location.Name,
		account.Location.Address,
		account.Location.Country,
		data,
		account.CreatedByUserID,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return err
}

func (r *PgAccountRepository) GetByID(ctx context.Context, id string) (domain.Account, error) {
	const query = `
		SELECT id, type, name, slug, is_guest, location_name, address, country,
			data, created_by_user_id, created_at, updated_at
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`
	var (
		a    domain.Account
		data []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Type,
		&a.Name,
		&a.Slug,
		&a.IsGuest,
		&a.Location.Name,
		&a.Location.Address,
		&a.Location.Country,
		&data,
		&a.CreatedByUserID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &a.Data); err != nil {
			return domain.Account{}, err
		}
	}
	return a, nil
}

// Update persiste nombre, slug, ubicación, flag de invitado y metadata.
func (r *PgAccountRepository) Update(ctx context.Context, account domain.Account) error {
	data, err := marshalData(account.Data)
	if err != nil {
		return err
	}
	const query = `
		UPDATE accounts
		SET name = $2, slug = $3, is_guest = $4, location_name = $5, address = $6,
			country = $7, data = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query,
		account.ID,
		account.Name,
		account.Slug,
		account.IsGuest,
		account.Location.Name,
		account.Location.Address,
		account.Location.Country,
		data,
		account.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgAccountRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE slug = $1 AND deleted_at IS NULL)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, slug).Scan(&exists)
	return exists, err
}

func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}
