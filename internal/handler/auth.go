package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperr"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/validation"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Svc     *service.AuthService
	Binder  Binder
	Timeout time.Duration
}

func NewAuthHandler(svc *service.AuthService, binder Binder, timeout time.Duration) *AuthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuthHandler{Svc: svc, Binder: binder, Timeout: timeout}
}

func (h *AuthHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// Register: create user and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req validation.RegisterRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.Register(ctx, service.RegisterInput{Email: req.Email, Password: req.Password, Name: req.Name}, c.RealIP())
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, res)
}

// Login: verify credentials and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req validation.LoginRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Svc.Login(ctx, req.Email, req.Password, c.RealIP())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, res)
}

// RefreshToken: rotate the presented refresh token.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req validation.RefreshRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	pair, err := h.Svc.Refresh(ctx, req.RefreshToken, c.RealIP())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, pair)
}

// Logout: forget the refresh token if one was sent.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req validation.LogoutRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.Logout(ctx, req.RefreshToken); err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, "Logged out successfully")
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	u, err := authedUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	me, err := h.Svc.Me(ctx, u.ID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, me)
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	u, err := authedUser(c)
	if err != nil {
		return err
	}
	var req validation.ChangePasswordRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.ChangePassword(ctx, u.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, "Password changed successfully")
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req validation.ForgotPasswordRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	msg, err := h.Svc.ForgotPassword(ctx, req.Email, c.RealIP())
	if err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, msg)
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req validation.ResetPasswordRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, "Password reset successfully")
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req validation.VerifyEmailRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.VerifyEmail(ctx, req.Token); err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, "Email verified successfully")
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	u, err := authedUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.ResendVerification(ctx, u.ID); err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, "Verification email sent")
}

func authedUser(c echo.Context) (*model.User, error) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, apperr.Authentication("Authentication required")
	}
	return u, nil
}
