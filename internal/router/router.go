// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/auth-service/internal/handler"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/model"
)

// Prefixes under which the auth routes are mounted.  The root mount keeps
// older clients working.
var Prefixes = []string{"/api/auth", ""}

// Deps is everything the routes need.
type Deps struct {
	Auth        *handler.AuthHandler
	Tokens      middleware.TokenParser
	Users       middleware.UserFinder
	Limiter     echo.MiddlewareFunc
	Log         *slog.Logger
	Metrics     *metrics.Metrics
	ServiceName string
	Production  bool
	Timeout     time.Duration
}

// New builds the Echo instance with the global middleware chain, the error
// handler and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(d.Log, d.Production)

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Log, d.Metrics))
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			d.Log.Error("panic recovered", "path", c.Request().URL.Path, "err", err, "stack", string(stack))
			return err
		},
	}))
	e.Use(echomw.BodyLimit("1M"))

	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterAdmin(e, d)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/health", handler.Health(d.ServiceName))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
}

// RegisterAuth registers the auth endpoints.  Public operations go through
// the rate limiter; the rest require a valid access token.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := d.Auth
	limit := passThrough(d.Limiter)
	authn := middleware.Authenticate(d.Tokens, d.Users, d.Timeout)

	for _, p := range Prefixes {
		g := e.Group(p)
		g.POST("/register", a.Register, limit)
		g.POST("/login", a.Login, limit)
		g.POST("/refresh-token", a.RefreshToken, limit)
		g.POST("/logout", a.Logout)
		g.POST("/forgot-password", a.ForgotPassword, limit)
		g.POST("/reset-password", a.ResetPassword, limit)
		g.POST("/verify-email", a.VerifyEmail, limit)

		g.GET("/me", a.Me, authn)
		g.PUT("/change-password", a.ChangePassword, authn)
		g.POST("/resend-verification", a.ResendVerification, authn, limit)
	}
}

// RegisterAdmin registers user management for administrators.  The role is
// read from the store by Authenticate, never from the token.
func RegisterAdmin(e *echo.Echo, d Deps) {
	admin := handler.AdminUsers{AuthHandler: d.Auth}
	chain := []echo.MiddlewareFunc{
		middleware.Authenticate(d.Tokens, d.Users, d.Timeout),
		middleware.RequireRole(model.RoleAdmin),
	}
	for _, p := range Prefixes {
		g := e.Group(p + "/admin/users")
		g.GET("/:id", admin.Get, chain...)
		g.PUT("/:id/status", admin.UpdateStatus, chain...)
		g.DELETE("/:id", admin.Delete, chain...)
	}
}

func passThrough(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	if mw != nil {
		return mw
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
}
