package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fiscalhost/internal/domain"
	"fiscalhost/internal/email"
	"fiscalhost/internal/repository"
)

// MaxLinkTokens acota cuántas sesiones invitadas se pueden fusionar en una confirmación.
const MaxLinkTokens = 30

const (
	guestTokenBytes        = 64
	confirmationTokenBytes = 32
	pgUniqueViolation      = "23505"
)

// GuestService coordina el ciclo de vida de las cuentas invitadas: creación,
// reutilización por token o email, confirmación y fusión.
type GuestService struct {
	logger         *zap.Logger
	store          repository.Store
	emailSender    email.Sender
	ipLimiter      RateLimiter
	emailLimiter   RateLimiter
	confirmBaseURL string
	now            func() time.Time
}

func NewGuestService(
	logger *zap.Logger,
	store repository.Store,
	emailSender email.Sender,
	ipLimiter RateLimiter,
	emailLimiter RateLimiter,
	confirmBaseURL string,
) *GuestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ipLimiter == nil {
		ipLimiter = NewRateLimiter(time.Minute, 10)
	}
	if emailLimiter == nil {
		emailLimiter = NewRateLimiter(time.Minute, 3)
	}
	return &GuestService{
		logger:         logger,
		store:          store,
		emailSender:    emailSender,
		ipLimiter:      ipLimiter,
		emailLimiter:   emailLimiter,
		confirmBaseURL: confirmBaseURL,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type GuestProfileInput struct {
	Email    string
	Token    string
	Name     string
	Location domain.Location
}

type GuestProfile struct {
	Account domain.Account    `json:"account"`
	User    domain.User       `json:"user"`
	Token   domain.GuestToken `json:"token"`
}

// ResolveGuestProfile devuelve la cuenta invitada para (email, token), reutilizando
// la existente cuando corresponde o creando cuenta, usuario y token en una sola
// transacción.
func (s *GuestService) ResolveGuestProfile(ctx context.Context, input GuestProfileInput) (GuestProfile, error) {
	if s.store == nil {
		return GuestProfile{}, errors.New("guest service not configured")
	}

	emailAddr := normalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	location := trimLocation(input.Location)

	if emailAddr != "" {
		existing, err := s.store.Users().GetByEmail(ctx, emailAddr)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return GuestProfile{}, err
		}
		if err == nil && existing.IsConfirmed() {
			return GuestProfile{}, ErrAccountExists
		}
	}

	if token := strings.TrimSpace(input.Token); token != "" {
		profile, err := s.loadProfileByToken(ctx, token)
		if err != nil {
			return GuestProfile{}, err
		}
		if profile.User.IsConfirmed() {
			return GuestProfile{}, ErrAccountExists
		}
		if emailAddr == "" || emailAddr == normalizeEmail(profile.User.Email) {
			account, err := s.backfillAccount(ctx, s.store.Accounts(), profile.Account, name, location)
			if err != nil {
				return GuestProfile{}, err
			}
			profile.Account = account
			return profile, nil
		}
		// Otro email: la sesión del token se abandona y nunca se reasigna.
		s.logger.Info("guest token used with a different email, starting new profile",
			zap.String("account_id", profile.Account.ID))
	}

	if emailAddr == "" {
		return GuestProfile{}, ErrEmailRequired
	}

	profile, err := s.profileByEmail(ctx, emailAddr, name, location)
	if isUniqueViolation(err) {
		// Otra request creó el mismo email en paralelo.
		return s.profileByEmail(ctx, emailAddr, name, location)
	}
	return profile, err
}

func (s *GuestService) profileByEmail(ctx context.Context, emailAddr, name string, location domain.Location) (GuestProfile, error) {
	user, err := s.store.Users().GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.createGuestProfile(ctx, emailAddr, name, location)
		}
		return GuestProfile{}, err
	}
	if user.IsConfirmed() {
		return GuestProfile{}, ErrAccountExists
	}
	return s.reuseGuestProfile(ctx, user, name, location)
}

func (s *GuestService) loadProfileByToken(ctx context.Context, value string) (GuestProfile, error) {
	token, err := s.store.GuestTokens().GetByValue(ctx, value)
	if err != nil {
		return GuestProfile{}, invalidTokenOr(err)
	}
	account, err := s.store.Accounts().GetByID(ctx, token.AccountID)
	if err != nil {
		return GuestProfile{}, invalidTokenOr(err)
	}
	user, err := s.store.Users().GetByAccountID(ctx, account.ID)
	if err != nil {
		return GuestProfile{}, invalidTokenOr(err)
	}
	return GuestProfile{Account: account, User: user, Token: token}, nil
}

// reuseGuestProfile mantiene la cuenta de un email no confirmado y abre una nueva
// sesión invitada sobre ella.
func (s *GuestService) reuseGuestProfile(ctx context.Context, user domain.User, name string, location domain.Location) (GuestProfile, error) {
	var profile GuestProfile
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		account, err := tx.Accounts().GetByID(ctx, user.AccountID)
		if err != nil {
			return fmt.Errorf("load account of user %s: %w", user.ID, err)
		}
		account, err = s.backfillAccount(ctx, tx.Accounts(), account, name, location)
		if err != nil {
			return err
		}
		token, err := s.newGuestToken(ctx, tx.GuestTokens(), account.ID)
		if err != nil {
			return err
		}
		profile = GuestProfile{Account: account, User: user, Token: token}
		return nil
	})
	return profile, err
}

func (s *GuestService) createGuestProfile(ctx context.Context, emailAddr, name string, location domain.Location) (GuestProfile, error) {
	confirmationToken, err := generateToken(confirmationTokenBytes)
	if err != nil {
		return GuestProfile{}, err
	}
	if name == "" {
		name = domain.DefaultGuestName
	}

	var profile GuestProfile
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		now := s.now()
		userID := uuid.NewString()
		accountID := uuid.NewString()

		slug, err := repository.UniqueSlug(ctx, tx.Accounts(), guestSlug(accountID))
		if err != nil {
			return err
		}
		account := domain.Account{
			ID:              accountID,
			Type:            domain.AccountTypePerson,
			Name:            name,
			Slug:            slug,
			IsGuest:         true,
			Location:        location,
			Data:            map[string]any{},
			CreatedByUserID: &userID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Accounts().Create(ctx, account); err != nil {
			return err
		}

		user := domain.User{
			ID:                     userID,
			AccountID:              accountID,
			Email:                  emailAddr,
			EmailConfirmationToken: confirmationToken,
			CreatedAt:              now,
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}

		token, err := s.newGuestToken(ctx, tx.GuestTokens(), accountID)
		if err != nil {
			return err
		}
		profile = GuestProfile{Account: account, User: user, Token: token}
		return nil
	})
	if err != nil {
		return GuestProfile{}, err
	}

	s.logger.Info("guest profile created",
		zap.String("account_id", profile.Account.ID),
		zap.String("slug", profile.Account.Slug))
	return profile, nil
}

// backfillAccount completa nombre y ubicación sin borrar nunca valores existentes.
func (s *GuestService) backfillAccount(ctx context.Context, accounts repository.AccountRepository, account domain.Account, name string, location domain.Location) (domain.Account, error) {
	if name == "" && location.IsEmpty() {
		return account, nil
	}
	changed := false
	if name != "" && name != account.Name {
		account.Name = name
		changed = true
	}
	if location.Name != "" && location.Name != account.Location.Name {
		account.Location.Name = location.Name
		changed = true
	}
	if location.Address != "" && location.Address != account.Location.Address {
		account.Location.Address = location.Address
		changed = true
	}
	if location.Country != "" && location.Country != account.Location.Country {
		account.Location.Country = location.Country
		changed = true
	}
	if !changed {
		return account, nil
	}
	account.UpdatedAt = s.now()
	if err := accounts.Update(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

func (s *GuestService) newGuestToken(ctx context.Context, tokens repository.GuestTokenRepository, accountID string) (domain.GuestToken, error) {
	value, err := generateToken(guestTokenBytes)
	if err != nil {
		return domain.GuestToken{}, err
	}
	token := domain.GuestToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Value:     value,
		CreatedAt: s.now(),
	}
	if err := tokens.Create(ctx, token); err != nil {
		return domain.GuestToken{}, err
	}
	return token, nil
}

type ConfirmAccountInput struct {
	ConfirmationToken string
	Name              string
	LinkTokens        []string
}

// ConfirmAccount confirma el email del usuario, convierte la cuenta invitada en
// cuenta completa y le fusiona las otras cuentas invitadas de LinkTokens.
func (s *GuestService) ConfirmAccount(ctx context.Context, input ConfirmAccountInput) (domain.Account, domain.User, error) {
	if len(input.LinkTokens) > MaxLinkTokens {
		return domain.Account{}, domain.User{}, ErrTooManyLinkTokens
	}
	if s.store == nil {
		return domain.Account{}, domain.User{}, errors.New("guest service not configured")
	}
	confirmationToken := strings.TrimSpace(input.ConfirmationToken)
	if confirmationToken == "" {
		return domain.Account{}, domain.User{}, ErrTokenRequired
	}

	user, err := s.store.Users().GetByConfirmationToken(ctx, confirmationToken)
	if err != nil {
		return domain.Account{}, domain.User{}, invalidTokenOr(err)
	}
	if user.IsConfirmed() {
		return domain.Account{}, domain.User{}, ErrAlreadyVerified
	}

	// La confirmación se commitea antes de fusionar: un segundo intento con el
	// mismo token ve ErrAlreadyVerified.
	var account domain.Account
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		confirmedAt := s.now()
		if err := tx.Users().Confirm(ctx, user.ID, confirmedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAlreadyVerified
			}
			return err
		}
		user.ConfirmedAt = &confirmedAt
		user.EmailConfirmationToken = ""

		acc, err := tx.Accounts().GetByID(ctx, user.AccountID)
		if err != nil {
			return fmt.Errorf("load account of user %s: %w", user.ID, err)
		}
		name := confirmedName(acc.Name, input.Name)
		slug := acc.Slug
		if repository.Slugify(name) != acc.Slug {
			slug, err = repository.UniqueSlug(ctx, tx.Accounts(), name)
			if err != nil {
				return err
			}
		}
		acc.Name = name
		acc.Slug = slug
		acc.IsGuest = false
		acc.UpdatedAt = confirmedAt
		if err := tx.Accounts().Update(ctx, acc); err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return domain.Account{}, domain.User{}, err
	}

	mergedIDs, err := s.mergeLinkedGuests(ctx, account, input.LinkTokens)
	if err != nil {
		return domain.Account{}, domain.User{}, err
	}

	accountIDs := append([]string{account.ID}, mergedIDs...)
	if err := s.store.GuestTokens().DeleteByAccountIDs(ctx, accountIDs, s.now()); err != nil {
		return domain.Account{}, domain.User{}, err
	}

	s.logger.Info("guest account confirmed",
		zap.String("account_id", account.ID),
		zap.String("slug", account.Slug),
		zap.Int("merged_accounts", len(mergedIDs)))
	return account, user, nil
}

// mergeLinkedGuests resuelve los tokens a cuentas invitadas distintas de target y
// las fusiona en paralelo. Tokens que no resuelven se ignoran.
func (s *GuestService) mergeLinkedGuests(ctx context.Context, target domain.Account, values []string) ([]string, error) {
	values = uniqueNonEmpty(values)
	if len(values) == 0 {
		return nil, nil
	}

	tokens, err := s.store.GuestTokens().ListByValues(ctx, values)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{target.ID: true}
	var sources []domain.Account
	for _, token := range tokens {
		if seen[token.AccountID] {
			continue
		}
		seen[token.AccountID] = true

		account, err := s.store.Accounts().GetByID(ctx, token.AccountID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !account.IsGuest || account.State() != domain.LifecycleActive {
			continue
		}
		sources = append(sources, account)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		g.Go(func() error {
			if err := s.store.Merger().Merge(gctx, source, target); err != nil {
				return fmt.Errorf("merge account %s into %s: %w", source.ID, target.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sources))
	for _, source := range sources {
		ids = append(ids, source.ID)
	}
	return ids, nil
}

// RequestConfirmationEmail reenvía el link de confirmación a un invitado no
// confirmado. Los límites por IP y por email se chequean antes de cualquier lectura.
func (s *GuestService) RequestConfirmationEmail(ctx context.Context, emailAddr string) error {
	caller := CallerFromContext(ctx)
	if caller.Authenticated() {
		return ErrAlreadySignedIn
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrEmailRequired
	}

	ipKey := strings.TrimSpace(caller.IP)
	if ipKey == "" {
		ipKey = "unknown"
	}
	if ok, retryAfter := s.ipLimiter.Allow(ipKey); !ok {
		return &RateLimitError{Scope: RateLimitScopeIP, RetryAfter: retryAfter}
	}
	if ok, retryAfter := s.emailLimiter.Allow(emailAddr); !ok {
		return &RateLimitError{Scope: RateLimitScopeEmail, RetryAfter: retryAfter}
	}

	if s.store == nil {
		return errors.New("guest service not configured")
	}
	user, err := s.store.Users().GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if user.IsConfirmed() {
		return ErrAlreadyConfirmed
	}

	if s.emailSender == nil {
		return ErrEmailSendFailure
	}
	link := email.GuestConfirmationURL(s.confirmBaseURL, user.EmailConfirmationToken, user.Email)
	if err := s.emailSender.SendGuestConfirmation(ctx, user.Email, link); err != nil {
		s.logger.Warn("send guest confirmation failed", zap.Error(err), zap.String("user_id", user.ID))
		return fmt.Errorf("%w: %w", ErrEmailSendFailure, err)
	}
	return nil
}

func confirmedName(current, requested string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	if current == "" || current == domain.DefaultGuestName {
		return domain.IncognitoName
	}
	return current
}

func guestSlug(accountID string) string {
	short, _, _ := strings.Cut(accountID, "-")
	return domain.GuestSlugPrefix + short
}

func invalidTokenOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidToken
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func generateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimLocation(l domain.Location) domain.Location {
	return domain.Location{
		Name:    strings.TrimSpace(l.Name),
		Address: strings.TrimSpace(l.Address),
		Country: strings.ToUpper(strings.TrimSpace(l.Country)),
	}
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
