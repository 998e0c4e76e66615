package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/model"
)

// Context keys set by Authenticate.
const (
	ctxUser   = "auth.user"
	ctxUserID = "user_id"
)

// CurrentUser returns the user loaded by Authenticate.  Secrets are never
// part of it.
func CurrentUser(c echo.Context) (*model.User, bool) {
	u, ok := c.Get(ctxUser).(*model.User)
	return u, ok && u != nil
}

func setUser(c echo.Context, u *model.User) {
	c.Set(ctxUser, u)
	c.Set(ctxUserID, u.ID.String())
}

// userID returns the authenticated user id, or "anon" before
// authentication.
func userID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
