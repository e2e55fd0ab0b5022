package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Validacion.
	ErrEmailRequired     = errors.New("email required")
	ErrTooManyLinkTokens = errors.New("too many guest tokens to link")
	ErrTokenRequired     = errors.New("confirmation token required")

	// Autorizacion.
	ErrAlreadySignedIn = errors.New("already signed in")

	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrAlreadyVerified  = errors.New("account already verified")
	ErrAlreadyConfirmed = errors.New("email already confirmed")
	// ErrAccountExists: ya hay una cuenta confirmada para el email.
	ErrAccountExists = errors.New("account already exists for this email")

	ErrRateLimited      = errors.New("rate limited")
	ErrEmailSendFailure = errors.New("email send failed")
)

const (
	RateLimitScopeIP    = "ip"
	RateLimitScopeEmail = "email"
)

// RateLimitError indica qué cuota se agotó y cuándo se puede reintentar.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsValidation indica si err es un error de validacion de entrada.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmailRequired) ||
		errors.Is(err, ErrTooManyLinkTokens) ||
		errors.Is(err, ErrTokenRequired)
}
