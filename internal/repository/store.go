package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX es el subconjunto de pgx compartido por *pgxpool.Pool y pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store agrupa los repositorios y permite ejecutarlos dentro de una transacción.
type Store interface {
	Accounts() AccountRepository
	Users() UserRepository
	GuestTokens() GuestTokenRepository
	Merger() AccountMerger
	// WithTx ejecuta fn con repositorios ligados a una transacción; commit si fn
	// no devuelve error, rollback en otro caso. Anidado reutiliza la transacción abierta.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// TxBeginner es DBTX más la apertura de transacciones (*pgxpool.Pool, pgxmock).
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ TxBeginner = (*pgxpool.Pool)(nil)

type PgStore struct {
	pool TxBeginner
	db   DBTX
	inTx bool
}

func NewPgStore(pool TxBeginner) *PgStore {
	return &PgStore{pool: pool, db: pool}
}

func (s *PgStore) Accounts() AccountRepository {
	return NewPgAccountRepository(s.db)
}

func (s *PgStore) Users() UserRepository {
	return NewPgUserRepository(s.db)
}

func (s *PgStore) GuestTokens() GuestTokenRepository {
	return NewPgGuestTokenRepository(s.db)
}

func (s *PgStore) Merger() AccountMerger {
	return &PgAccountMerger{store: s}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(&PgStore{pool: s.pool, db: tx, inTx: true})
	return err
}
