package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"fiscalhost/internal/domain"
	"fiscalhost/internal/service"
)

const authClaimsKey = "auth_claims"

const defaultLocale = "en"

// JWTAuthMiddleware valida JWT access tokens y guarda claims en el contexto.
func JWTAuthMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// CallerMiddleware arma el domain.Caller de la request (IP, locale y, si hay un
// bearer válido, la identidad) y lo deja en el context.Context del request.
// Nunca rechaza: un token inválido equivale a un caller anónimo.
func CallerMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := domain.Caller{
			IP:     c.ClientIP(),
			Locale: requestLocale(c.GetHeader("Accept-Language")),
		}
		if token, ok := bearerToken(c); ok && jwtSvc != nil {
			if claims, err := jwtSvc.ParseAccessToken(token); err == nil {
				caller.UserID = claims.UserID
				caller.AccountID = claims.AccountID
				c.Set(authClaimsKey, claims)
			}
		}
		c.Request = c.Request.WithContext(service.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// GetAuthClaims obtiene claims de JWT desde el contexto.
func GetAuthClaims(c *gin.Context) (service.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.Claims{}, false
	}
	claims, ok := val.(service.Claims)
	return claims, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}

func requestLocale(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 || tags[0] == language.Und {
		return defaultLocale
	}
	base, _ := tags[0].Base()
	return base.String()
}
