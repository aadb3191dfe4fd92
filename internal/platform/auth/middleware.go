package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const principalKey contextKey = "principal"

// Claims is the JWT payload the server accepts: the registered claims plus
// the caller's role and capability grants.
type Claims struct {
	jwt.RegisteredClaims
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// Principal is the authenticated caller as seen by handlers and services.
type Principal struct {
	Subject      string
	Role         string
	Capabilities []string
}

// HasCapability reports whether the principal holds the capability. The
// wildcard grant "*" covers everything.
func (p *Principal) HasCapability(capability string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c == capability || c == "*" {
			return true
		}
	}
	return false
}

type JWTConfig struct {
	// Secret verifies HS256 signatures.
	Secret []byte
	Issuer string
}

// JWTMiddleware authenticates requests with a bearer token and stores the
// resulting Principal on the request context. Paths accepted by skipper
// pass through unauthenticated.
func JWTMiddleware(cfg JWTConfig, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.Secret, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			principal := &Principal{
				Subject:      claims.Subject,
				Role:         claims.Role,
				Capabilities: claims.Capabilities,
			}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), principal)))

			return next(c)
		}
	}
}

// DevAuthMiddleware injects a full-capability principal into every request.
// Development only; Config.Validate refuses to run production without JWTs.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal := &Principal{
				Subject:      "dev-user",
				Role:         "admin",
				Capabilities: []string{"*"},
			}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), principal)))
			return next(c)
		}
	}
}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the authenticated principal, or nil when
// the request was not authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
