package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperr"
)

// RequireRole lets a request through only when the authenticated user's role
// is in the allow-set fixed at route registration.  It must run after
// Authenticate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := CurrentUser(c)
			if !ok {
				return apperr.Authentication("Authentication required")
			}
			if !allowed[u.Role] {
				return apperr.Authorization("Not authorized to access this resource")
			}
			return next(c)
		}
	}
}
