package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"fiscalhost/internal/domain"
	"fiscalhost/internal/repository"
)

// fakeStore es un Store en memoria. Cuenta cada acceso a repositorios para poder
// verificar validaciones que deben cortar antes de tocar la base.
type fakeStore struct {
	mu           sync.Mutex
	accounts     map[string]domain.Account
	users        map[string]domain.User
	tokens       map[string]domain.GuestToken
	transactions []domain.Transaction

	calls    int
	txCalls  int
	mergeErr error
	// userErr y tokenErr se devuelven una sola vez en el próximo Create.
	userErr  error
	tokenErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]domain.Account{},
		users:    map[string]domain.User{},
		tokens:   map[string]domain.GuestToken{},
	}
}

func (s *fakeStore) touch() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *fakeStore) Accounts() repository.AccountRepository {
	s.touch()
	return fakeAccounts{s}
}

func (s *fakeStore) Users() repository.UserRepository {
	s.touch()
	return fakeUsers{s}
}

func (s *fakeStore) GuestTokens() repository.GuestTokenRepository {
	s.touch()
	return fakeTokens{s}
}

func (s *fakeStore) Merger() repository.AccountMerger {
	s.touch()
	return fakeMerger{s}
}

// WithTx restaura el estado previo si fn devuelve error.
func (s *fakeStore) WithTx(_ context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	s.calls++
	s.txCalls++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restoreLocked(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

type fakeState struct {
	accounts     map[string]domain.Account
	users        map[string]domain.User
	tokens       map[string]domain.GuestToken
	transactions []domain.Transaction
}

func (s *fakeStore) snapshotLocked() fakeState {
	st := fakeState{
		accounts:     make(map[string]domain.Account, len(s.accounts)),
		users:        make(map[string]domain.User, len(s.users)),
		tokens:       make(map[string]domain.GuestToken, len(s.tokens)),
		transactions: append([]domain.Transaction(nil), s.transactions...),
	}
	for k, v := range s.accounts {
		st.accounts[k] = v
	}
	for k, v := range s.users {
		st.users[k] = v
	}
	for k, v := range s.tokens {
		st.tokens[k] = v
	}
	return st
}

func (s *fakeStore) restoreLocked(st fakeState) {
	s.accounts = st.accounts
	s.users = st.users
	s.tokens = st.tokens
	s.transactions = st.transactions
}

// orphanAccounts devuelve las cuentas vivas sin usuario vivo.
func (s *fakeStore) orphanAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := map[string]bool{}
	for _, u := range s.users {
		if u.DeletedAt == nil {
			owned[u.AccountID] = true
		}
	}
	var orphans []string
	for id, a := range s.accounts {
		if a.DeletedAt == nil && !owned[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans
}

func (s *fakeStore) accessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) account(id string) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *fakeStore) activeTokens(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.AccountID == accountID && t.DeletedAt == nil {
			n++
		}
	}
	return n
}

func (s *fakeStore) addTransaction(tx domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, tx)
}

func (s *fakeStore) transactionsOf(accountID string) []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out
}

type fakeAccounts struct{ s *fakeStore }

func (r fakeAccounts) Create(_ context.Context, account domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.accounts[account.ID] = account
	return nil
}

func (r fakeAccounts) GetByID(_ context.Context, id string) (domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok || a.DeletedAt != nil {
		return domain.Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func (r fakeAccounts) Update(_ context.Context, account domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.accounts[account.ID]
	if !ok || current.DeletedAt != nil {
		return pgx.ErrNoRows
	}
	r.s.accounts[account.ID] = account
	return nil
}

func (r fakeAccounts) SlugExists(_ context.Context, slug string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.Slug == slug && a.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

type fakeUsers struct{ s *fakeStore }

func (r fakeUsers) Create(_ context.Context, user domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.userErr; err != nil {
		r.s.userErr = nil
		return err
	}
	r.s.users[user.ID] = user
	return nil
}

func (r fakeUsers) find(match func(domain.User) bool) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.DeletedAt == nil && match(u) {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r fakeUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r fakeUsers) GetByAccountID(_ context.Context, accountID string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.AccountID == accountID })
}

func (r fakeUsers) GetByConfirmationToken(_ context.Context, token string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return token != "" && u.EmailConfirmationToken == token })
}

func (r fakeUsers) Confirm(_ context.Context, id string, confirmedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.DeletedAt != nil || u.ConfirmedAt != nil {
		return pgx.ErrNoRows
	}
	u.ConfirmedAt = &confirmedAt
	u.EmailConfirmationToken = ""
	r.s.users[id] = u
	return nil
}

type fakeTokens struct{ s *fakeStore }

func (r fakeTokens) Create(_ context.Context, token domain.GuestToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.tokenErr; err != nil {
		r.s.tokenErr = nil
		return err
	}
	r.s.tokens[token.Value] = token
	return nil
}

func (r fakeTokens) GetByValue(_ context.Context, value string) (domain.GuestToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[value]
	if !ok || t.DeletedAt != nil {
		return domain.GuestToken{}, pgx.ErrNoRows
	}
	return t, nil
}

func (r fakeTokens) ListByValues(_ context.Context, values []string) ([]domain.GuestToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.GuestToken
	for _, v := range values {
		if t, ok := r.s.tokens[v]; ok && t.DeletedAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r fakeTokens) DeleteByAccountIDs(_ context.Context, accountIDs []string, deletedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		ids[id] = true
	}
	for v, t := range r.s.tokens {
		if ids[t.AccountID] && t.DeletedAt == nil {
			at := deletedAt
			t.DeletedAt = &at
			r.s.tokens[v] = t
		}
	}
	return nil
}

type fakeMerger struct{ s *fakeStore }

func (m fakeMerger) Merge(_ context.Context, from, into domain.Account) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.mergeErr != nil {
		return m.s.mergeErr
	}
	if from.ID == into.ID {
		return errors.New("cannot merge account into itself")
	}
	for i, tx := range m.s.transactions {
		if tx.AccountID == from.ID {
			m.s.transactions[i].AccountID = into.ID
		}
		if tx.FromAccountID == from.ID {
			m.s.transactions[i].FromAccountID = into.ID
		}
	}
	now := time.Now().UTC()
	for id, u := range m.s.users {
		if u.AccountID == from.ID && u.DeletedAt == nil {
			u.DeletedAt = &now
			m.s.users[id] = u
		}
	}
	source := m.s.accounts[from.ID]
	source.DeletedAt = &now
	if source.Data == nil {
		source.Data = map[string]any{}
	}
	source.Data["mergedIntoAccountId"] = into.ID
	m.s.accounts[from.ID] = source
	return nil
}
