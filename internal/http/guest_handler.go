package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fiscalhost/internal/domain"
	"fiscalhost/internal/service"
)

// GuestService es lo que el handler necesita del ciclo de vida de invitados.
type GuestService interface {
	ResolveGuestProfile(ctx context.Context, input service.GuestProfileInput) (service.GuestProfile, error)
	ConfirmAccount(ctx context.Context, input service.ConfirmAccountInput) (domain.Account, domain.User, error)
	RequestConfirmationEmail(ctx context.Context, email string) error
}

// GuestHandler expone los endpoints de cuentas invitadas.
type GuestHandler struct {
	logger   *zap.Logger
	guestSvc GuestService
	jwtServ  *service.JWTService
}

func NewGuestHandler(logger *zap.Logger, guestSvc GuestService, jwtServ *service.JWTService) *GuestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuestHandler{
		logger:   logger,
		guestSvc: guestSvc,
		jwtServ:  jwtServ,
	}
}

type locationRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Country string `json:"country" binding:"omitempty,max=2"`
}

// ResolveProfile maneja POST /guest/profile.
func (h *GuestHandler) ResolveProfile(c *gin.Context) {
	var req struct {
		Email    string          `json:"email" binding:"omitempty,email"`
		Token    string          `json:"token"`
		Name     string          `json:"name" binding:"max=255"`
		Location locationRequest `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid guest profile request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	profile, err := h.guestSvc.ResolveGuestProfile(c.Request.Context(), service.GuestProfileInput{
		Email: req.Email,
		Token: req.Token,
		Name:  req.Name,
		Location: domain.Location{
			Name:    req.Location.Name,
			Address: req.Location.Address,
			Country: req.Location.Country,
		},
	})
	if err != nil {
		h.writeError(c, "resolve guest profile", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": profile.Account,
		"user":    profile.User,
		"token":   profile.Token.Value,
	})
}

// Confirm maneja POST /guest/confirm y emite tokens de sesión para la cuenta confirmada.
func (h *GuestHandler) Confirm(c *gin.Context) {
	var req struct {
		EmailConfirmationToken string   `json:"email_confirmation_token" binding:"required"`
		Name                   string   `json:"name" binding:"max=255"`
		LinkTokens             []string `json:"link_tokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid guest confirm request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	account, user, err := h.guestSvc.ConfirmAccount(c.Request.Context(), service.ConfirmAccountInput{
		ConfirmationToken: req.EmailConfirmationToken,
		Name:              req.Name,
		LinkTokens:        req.LinkTokens,
	})
	if err != nil {
		h.writeError(c, "confirm guest account", err)
		return
	}

	// La cuenta ya quedó confirmada y el token consumido: se responde 200 aunque
	// no se puedan emitir tokens de sesión.
	resp := gin.H{"account": account}
	if tokens, err := h.issueTokens(c.Request.Context(), user); err != nil {
		h.logger.Error("jwt issue failed after confirmation",
			zap.Error(err),
			zap.String("account_id", account.ID))
	} else {
		resp["tokens"] = tokens
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GuestHandler) issueTokens(ctx context.Context, user domain.User) (service.TokenPair, error) {
	if h.jwtServ == nil {
		return service.TokenPair{}, errors.New("jwt not configured")
	}
	return h.jwtServ.GeneratePair(ctx, user)
}

// RequestConfirmationEmail maneja POST /guest/confirmation-email.
func (h *GuestHandler) RequestConfirmationEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid confirmation email request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.guestSvc.RequestConfirmationEmail(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, "request confirmation email", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *GuestHandler) writeError(c *gin.Context, op string, err error) {
	var rl *service.RateLimitError
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadySignedIn):
		c.JSON(http.StatusForbidden, gin.H{"error": "you are already signed in"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no guest account found for this email"})
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, service.ErrAlreadyVerified):
		c.JSON(http.StatusBadRequest, gin.H{"error": "this account has already been verified"})
	case errors.Is(err, service.ErrAlreadyConfirmed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "this email has already been confirmed, please sign in"})
	case errors.Is(err, service.ErrAccountExists):
		c.JSON(http.StatusConflict, gin.H{"error": "an account already exists for this email, please sign in"})
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl)))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, please try again later", "scope": rl.Scope})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, please try again later"})
	case errors.Is(err, service.ErrEmailSendFailure):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "email delivery unavailable"})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}

func retryAfterSeconds(rl *service.RateLimitError) int {
	secs := int(math.Ceil(rl.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
