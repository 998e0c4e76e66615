package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperr"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// TokenParser verifies access tokens.  service.TokenIssuer implements it.
type TokenParser interface {
	ParseAccessToken(raw string) (uuid.UUID, error)
}

// UserFinder loads the account behind a token.
type UserFinder interface {
	FindUserByID(ctx context.Context, id uuid.UUID, l repository.Lookup) (*model.User, error)
}

// Authenticate validates the Bearer access token, loads its user and stores
// it in the context for handlers and RequireRole.  The role used for
// authorization always comes from the store, never from the token.
func Authenticate(tokens TokenParser, users UserFinder, timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			raw = strings.TrimSpace(raw)
			if !ok || raw == "" {
				return apperr.Authentication("Authentication required")
			}

			id, err := tokens.ParseAccessToken(raw)
			switch {
			case errors.Is(err, utils.ErrTokenExpired):
				return apperr.Authentication("Token expired")
			case err != nil:
				return apperr.Authentication("Invalid token").Wrap(err)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			u, err := users.FindUserByID(ctx, id, repository.Public)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return apperr.Authentication("User not found")
				}
				return apperr.Internal(err)
			}
			if u.Status == model.StatusSuspended {
				return apperr.Authorization("Account suspended")
			}
			if !u.IsActive() {
				return apperr.Authentication("User not found")
			}

			setUser(c, u)
			return next(c)
		}
	}
}
