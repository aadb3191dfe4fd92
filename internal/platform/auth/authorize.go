package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cdr/cdr/internal/platform/apperrors"
)

// Capability names understood by the route guards and the service-level
// authorizer.
const (
	CapViewPerson = "view:person"
	CapAdminObs   = "admin:obs"
)

// RequireRole checks that the caller holds at least one of the roles. The
// admin role passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, required := range roles {
				if p.Role == required || p.Role == "admin" {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireCapability checks that the caller holds a capability grant.
func RequireCapability(capability string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !p.HasCapability(capability) {
				return echo.NewHTTPError(http.StatusForbidden, "required capability: "+capability)
			}
			return next(c)
		}
	}
}

// Authorizer answers capability checks for domain services from the
// principal carried on the request context.
type Authorizer struct{}

func NewAuthorizer() *Authorizer { return &Authorizer{} }

func (a *Authorizer) Can(ctx context.Context, capability string) error {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return apperrors.Unauthorized("")
	}
	if !p.HasCapability(capability) {
		return apperrors.Forbidden(capability)
	}
	return nil
}
