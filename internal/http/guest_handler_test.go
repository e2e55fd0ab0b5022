package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fiscalhost/internal/domain"
	"fiscalhost/internal/service"
)

type mockGuestService struct {
	resolveFn func(ctx context.Context, input service.GuestProfileInput) (service.GuestProfile, error)
	confirmFn func(ctx context.Context, input service.ConfirmAccountInput) (domain.Account, domain.User, error)
	requestFn func(ctx context.Context, email string) error
}

func (m *mockGuestService) ResolveGuestProfile(ctx context.Context, input service.GuestProfileInput) (service.GuestProfile, error) {
	return m.resolveFn(ctx, input)
}

func (m *mockGuestService) ConfirmAccount(ctx context.Context, input service.ConfirmAccountInput) (domain.Account, domain.User, error) {
	return m.confirmFn(ctx, input)
}

func (m *mockGuestService) RequestConfirmationEmail(ctx context.Context, email string) error {
	return m.requestFn(ctx, email)
}

func setupGuestRouter(t *testing.T, guestSvc GuestService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := service.NewJWTServiceWithStore("secret", 15*time.Minute, 30*time.Minute, service.NewMemoryRefreshTokenStore())
	logger := zap.NewNop()
	return NewRouter(logger, jwtSvc, NewGuestHandler(logger, guestSvc, jwtSvc), NewAuthHandler(logger, jwtSvc))
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGuestHandler_ResolveProfile(t *testing.T) {
	var got service.GuestProfileInput
	svc := &mockGuestService{
		resolveFn: func(_ context.Context, input service.GuestProfileInput) (service.GuestProfile, error) {
			got = input
			return service.GuestProfile{
				Account: domain.Account{ID: "a1", Name: "Zappa", Slug: "guest-1a2b3c4d", IsGuest: true},
				User:    domain.User{ID: "u1", AccountID: "a1", Email: input.Email, EmailConfirmationToken: "secret-token"},
				Token:   domain.GuestToken{ID: "t1", AccountID: "a1", Value: "guest-token"},
			}, nil
		},
	}
	r := setupGuestRouter(t, svc)

	rec := doJSON(r, http.MethodPost, "/guest/profile", map[string]any{
		"email":    "zappa@example.com",
		"name":     "Zappa",
		"location": map[string]string{"country": "US"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Email != "zappa@example.com" || got.Name != "Zappa" || got.Location.Country != "US" {
		t.Fatalf("unexpected service input: %+v", got)
	}
	var resp struct {
		Account domain.Account `json:"account"`
		User    map[string]any `json:"user"`
		Token   string         `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Account.ID != "a1" || !resp.Account.IsGuest || resp.Token != "guest-token" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
	if _, leaked := resp.User["email_confirmation_token"]; leaked {
		t.Fatalf("confirmation token must not be serialized")
	}
}

func TestGuestHandler_ResolveProfileRejectsBadEmail(t *testing.T) {
	svc := &mockGuestService{
		resolveFn: func(context.Context, service.GuestProfileInput) (service.GuestProfile, error) {
			t.Fatalf("service must not be called")
			return service.GuestProfile{}, nil
		},
	}
	r := setupGuestRouter(t, svc)

	rec := doJSON(r, http.MethodPost, "/guest/profile", map[string]string{"email": "not-an-email"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGuestHandler_ConfirmIssuesTokens(t *testing.T) {
	var got service.ConfirmAccountInput
	svc := &mockGuestService{
		confirmFn: func(_ context.Context, input service.ConfirmAccountInput) (domain.Account, domain.User, error) {
			got = input
			confirmedAt := time.Now().UTC()
			return domain.Account{ID: "a1", Name: "Incognito", Slug: "incognito"},
				domain.User{ID: "u1", AccountID: "a1", Email: "x@example.com", ConfirmedAt: &confirmedAt}, nil
		},
	}
	r := setupGuestRouter(t, svc)

	rec := doJSON(r, http.MethodPost, "/guest/confirm", map[string]any{
		"email_confirmation_token": "abc",
		"link_tokens":              []string{"t1", "t2"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.ConfirmationToken != "abc" || len(got.LinkTokens) != 2 {
		t.Fatalf("unexpected service input: %+v", got)
	}
	var resp struct {
		Account domain.Account    `json:"account"`
		Tokens  service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Account.Slug != "incognito" || resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.Header.Set("Authorization", "Bearer "+resp.Tokens.AccessToken)
	meRec := httptest.NewRecorder()
	r.ServeHTTP(meRec, me)
	if meRec.Code != http.StatusOK {
		t.Fatalf("expected issued access token to authenticate, got %d", meRec.Code)
	}
}

func TestGuestHandler_ConfirmRequiresToken(t *testing.T) {
	r := setupGuestRouter(t, &mockGuestService{})

	rec := doJSON(r, http.MethodPost, "/guest/confirm", map[string]any{"name": "x"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGuestHandler_RequestConfirmationEmailPassesCaller(t *testing.T) {
	var caller domain.Caller
	svc := &mockGuestService{
		requestFn: func(ctx context.Context, email string) error {
			caller = service.CallerFromContext(ctx)
			return nil
		},
	}
	r := setupGuestRouter(t, svc)

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]string{"email": "a@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/guest/confirmation-email", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "es-AR")
	req.RemoteAddr = "198.51.100.20:5555"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if caller.IP != "198.51.100.20" || caller.Locale != "es" || caller.Authenticated() {
		t.Fatalf("unexpected caller: %+v", caller)
	}
}

func TestGuestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: service.ErrEmailRequired, wantStatus: http.StatusBadRequest},
		{err: service.ErrTooManyLinkTokens, wantStatus: http.StatusBadRequest},
		{err: service.ErrAlreadySignedIn, wantStatus: http.StatusForbidden},
		{err: service.ErrUserNotFound, wantStatus: http.StatusNotFound},
		{err: service.ErrInvalidToken, wantStatus: http.StatusBadRequest},
		{err: service.ErrAlreadyVerified, wantStatus: http.StatusBadRequest},
		{err: service.ErrAlreadyConfirmed, wantStatus: http.StatusBadRequest},
		{err: service.ErrAccountExists, wantStatus: http.StatusConflict},
		{err: &service.RateLimitError{Scope: service.RateLimitScopeEmail, RetryAfter: 1500 * time.Millisecond}, wantStatus: http.StatusTooManyRequests},
		{err: fmt.Errorf("%w: %w", service.ErrEmailSendFailure, errors.New("smtp down")), wantStatus: http.StatusServiceUnavailable},
		{err: errors.New("pq: connection refused"), wantStatus: http.StatusInternalServerError},
	}

	messages := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &mockGuestService{
				requestFn: func(context.Context, string) error { return tt.err },
			}
			r := setupGuestRouter(t, svc)

			rec := doJSON(r, http.MethodPost, "/guest/confirmation-email", map[string]string{"email": "a@example.com"})

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var resp map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			msg, _ := resp["error"].(string)
			if msg == "" {
				t.Fatalf("expected error message")
			}
			if messages[msg] {
				t.Fatalf("error message %q is not distinct", msg)
			}
			messages[msg] = true
			if tt.wantStatus == http.StatusInternalServerError && msg != "something went wrong" {
				t.Fatalf("internal errors must stay opaque, got %q", msg)
			}
		})
	}
}

func TestGuestHandler_RateLimitedSetsRetryAfter(t *testing.T) {
	svc := &mockGuestService{
		requestFn: func(context.Context, string) error {
			return &service.RateLimitError{Scope: service.RateLimitScopeIP, RetryAfter: 41500 * time.Millisecond}
		},
	}
	r := setupGuestRouter(t, svc)

	rec := doJSON(r, http.MethodPost, "/guest/confirmation-email", map[string]string{"email": "a@example.com"})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After 42, got %q", got)
	}
}

func TestAuthHandler_RefreshAndLogout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := service.NewJWTServiceWithStore("secret", 15*time.Minute, 30*time.Minute, service.NewMemoryRefreshTokenStore())
	logger := zap.NewNop()
	r := NewRouter(logger, jwtSvc, NewGuestHandler(logger, &mockGuestService{}, jwtSvc), NewAuthHandler(logger, jwtSvc))
	pair, err := jwtSvc.GeneratePair(context.Background(), domain.User{ID: "u1", AccountID: "a1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	rec := doJSON(r, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on refresh, got %d", rec.Code)
	}
	var resp struct {
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doJSON(r, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": resp.Tokens.RefreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", rec.Code)
	}

	rec = doJSON(r, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": resp.Tokens.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestGuestHandler_ConfirmSucceedsWhenTokensCannotBeIssued(t *testing.T) {
	gin.SetMode(gin.TestMode)
	confirmed := false
	svc := &mockGuestService{
		confirmFn: func(context.Context, service.ConfirmAccountInput) (domain.Account, domain.User, error) {
			confirmed = true
			confirmedAt := time.Now().UTC()
			return domain.Account{ID: "a1", Name: "Zappa", Slug: "zappa"},
				domain.User{ID: "u1", AccountID: "a1", Email: "z@example.com", ConfirmedAt: &confirmedAt}, nil
		},
	}
	// sin secret GeneratePair falla con ErrJWTInvalid
	jwtSvc := service.NewJWTServiceWithStore("", 15*time.Minute, 30*time.Minute, service.NewMemoryRefreshTokenStore())
	logger := zap.NewNop()
	r := NewRouter(logger, jwtSvc, NewGuestHandler(logger, svc, jwtSvc), NewAuthHandler(logger, jwtSvc))

	rec := doJSON(r, http.MethodPost, "/guest/confirm", map[string]any{"email_confirmation_token": "abc"})

	if !confirmed {
		t.Fatalf("expected service to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after confirmation, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var account domain.Account
	if err := json.Unmarshal(resp["account"], &account); err != nil || account.ID != "a1" {
		t.Fatalf("expected confirmed account in response, got %s", rec.Body.String())
	}
	if _, ok := resp["tokens"]; ok {
		t.Fatalf("expected tokens to be omitted, got %s", rec.Body.String())
	}
}
