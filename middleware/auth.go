// Package middleware provides the echo middleware for the integration API:
// platform JWT authentication and callback rate limiting.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/skybridge-io/skybridge/domain"
)

// PlatformClaims are the claims the platform SSO puts in its access tokens.
// Only the fields this subsystem needs are decoded.
type PlatformClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates platform-issued JWTs and attaches the resulting
// Actor to the request context.
type Authenticator struct {
	signingKey []byte
}

// NewAuthenticator creates an Authenticator verifying HMAC-signed platform
// tokens with the given key.
func NewAuthenticator(signingKey []byte) *Authenticator {
	return &Authenticator{signingKey: signingKey}
}

// Middleware returns the echo middleware enforcing a valid Bearer token.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token"})
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
			}

			actor, err := a.actorFromToken(parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("Rejected bearer token")
				if errors.Is(err, jwt.ErrTokenExpired) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token_expired"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
			}

			ctx := domain.ContextWithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func (a *Authenticator) actorFromToken(raw string) (domain.Actor, error) {
	claims := &PlatformClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return domain.Actor{}, err
	}
	if !token.Valid || claims.Subject == "" || claims.TenantID == "" {
		return domain.Actor{}, errors.New("token missing subject or tenant")
	}
	return domain.Actor{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}

// RequireTenantOwner guards tenant-scoped routes: the authenticated actor
// must own the workspace named in the :tenantID path parameter.
func RequireTenantOwner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := domain.ActorFromContext(c.Request().Context())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token"})
			}
			if tenantID := c.Param("tenantID"); !actor.IsTenantOwner(tenantID) {
				log.Warn().
					Str("user_id", actor.UserID).
					Str("tenant_id", tenantID).
					Msg("Tenant ownership check failed")
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
