package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fiscalhost/internal/domain"
)

// AccountMerger traslada el historial de una cuenta a otra y retira la origen.
type AccountMerger interface {
	Merge(ctx context.Context, from, into domain.Account) error
}

// PgAccountMerger ejecuta cada fusión en su propia transacción.
type PgAccountMerger struct {
	store *PgStore
}

var mergeStatements = []struct {
	name  string
	query string
}{
	{"transactions.account_id", `UPDATE transactions SET account_id = $2 WHERE account_id = $1 AND deleted_at IS NULL`},
	{"transactions.from_account_id", `UPDATE transactions SET from_account_id = $2 WHERE from_account_id = $1 AND deleted_at IS NULL`},
	{"orders.from_account_id", `UPDATE orders SET from_account_id = $2 WHERE from_account_id = $1 AND deleted_at IS NULL`},
	{"payment_methods.account_id", `UPDATE payment_methods SET account_id = $2 WHERE account_id = $1 AND deleted_at IS NULL`},
}

func (m *PgAccountMerger) Merge(ctx context.Context, from, into domain.Account) error {
	if from.ID == "" || into.ID == "" {
		return errors.New("merge requires both accounts")
	}
	if from.ID == into.ID {
		return errors.New("cannot merge an account into itself")
	}
	return m.store.WithTx(ctx, func(tx Store) error {
		db := tx.(*PgStore).db
		for _, stmt := range mergeStatements {
			if _, err := db.Exec(ctx, stmt.query, from.ID, into.ID); err != nil {
				return fmt.Errorf("merge %s: %w", stmt.name, err)
			}
		}

		now := time.Now().UTC()
		const deleteUser = `
			UPDATE users SET deleted_at = $2
			WHERE account_id = $1 AND deleted_at IS NULL
		`
		if _, err := db.Exec(ctx, deleteUser, from.ID, now); err != nil {
			return fmt.Errorf("merge users: %w", err)
		}

		const deleteAccount = `
			UPDATE accounts
			SET deleted_at = $2, updated_at = $2,
				data = COALESCE(data, '{}'::jsonb) || jsonb_build_object('mergedIntoAccountId', $3::text)
			WHERE id = $1 AND deleted_at IS NULL
		`
		if _, err := db.Exec(ctx, deleteAccount, from.ID, now, into.ID); err != nil {
			return fmt.Errorf("merge accounts: %w", err)
		}
		return nil
	})
}
