package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/auth-service/internal/apperr"
	"github.com/iliyamo/auth-service/internal/mail"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/notify"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// Client-facing messages.  Several are shared on purpose so that responses do
// not reveal whether an account exists.
const (
	MsgEmailInUse         = "Email already in use"
	MsgInvalidCredentials = "Invalid credentials"
	MsgAccountSuspended   = "Account suspended"
	MsgInvalidRefresh     = "Invalid refresh token"
	MsgRefreshExpired     = "Refresh token expired"
	MsgUserNotFound       = "User not found"
	MsgWrongPassword      = "Current password is incorrect"
	MsgResetRequested     = "If your email is registered, you will receive a password reset link"
	MsgInvalidToken       = "Invalid or expired token"
	MsgAlreadyVerified    = "Email is already verified"
	MsgSelfModification   = "You cannot change your own account"
	MsgPasswordTooLong    = "Password must be at most 72 bytes"
)

// AuthResult is returned by register and login.
type AuthResult struct {
	User   *model.User `json:"user"`
	Tokens TokenPair   `json:"tokens"`
}

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// AuthService is the authentication state machine.
type AuthService struct {
	users       UserStore
	tokens      *TokenIssuer
	hasher      *utils.PasswordHasher
	notifier    notify.Notifier
	log         *slog.Logger
	metrics     *metrics.Metrics
	frontendURL string
	resetTTL    time.Duration
	verifyTTL   time.Duration
	now         func() time.Time
}

// Options carries the collaborators of an AuthService.
type Options struct {
	Users       UserStore
	Tokens      *TokenIssuer
	Hasher      *utils.PasswordHasher
	Notifier    notify.Notifier
	Log         *slog.Logger
	Metrics     *metrics.Metrics
	FrontendURL string
	ResetTTL    time.Duration
	VerifyTTL   time.Duration
}

func NewAuthService(o Options) *AuthService {
	return &AuthService{
		users:       o.Users,
		tokens:      o.Tokens,
		hasher:      o.Hasher,
		notifier:    o.Notifier,
		log:         o.Log,
		metrics:     o.Metrics,
		frontendURL: o.FrontendURL,
		resetTTL:    o.ResetTTL,
		verifyTTL:   o.VerifyTTL,
		now:         time.Now,
	}
}

// SetClock replaces the clock of the service and its token issuer.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.tokens.SetClock(now)
}

// Tokens exposes the issuer to the authentication middleware.
func (s *AuthService) Tokens() *TokenIssuer { return s.tokens }

// Register creates an account and signs the new user in.  Welcome and
// verification emails are dispatched in the background; their failure never
// fails the registration.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, ip string) (*AuthResult, error) {
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}
	email := repository.NormalizeEmail(in.Email)
	_, err := s.users.FindUserByEmail(ctx, email, repository.Public)
	switch {
	case err == nil:
		s.metrics.Auth("register", "conflict")
		return nil, apperr.Conflict(MsgEmailInUse)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Internal(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now().UTC()
	u := &model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         model.RoleUser,
		Status:       model.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.metrics.Auth("register", "conflict")
			return nil, apperr.Conflict(MsgEmailInUse)
		}
		return nil, apperr.Internal(err)
	}

	pair, err := s.tokens.IssueTokenPair(ctx, u.ID, ip)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.notify(ctx, mail.Welcome, u, "", "")
	if raw, err := s.tokens.IssueVerifyToken(ctx, u.ID); err != nil {
		s.log.Error("issue verify token failed", "user_id", u.ID, "err", err)
	} else {
		s.notify(ctx, mail.VerifyEmail, u, s.link("/verify-email", raw), humanize(s.verifyTTL))
	}

	s.log.Info("user registered", "user_id", u.ID)
	s.metrics.Auth("register", "success")
	u.PasswordHash = ""
	return &AuthResult{User: u, Tokens: pair}, nil
}

// Login checks credentials.  Unknown emails and wrong passwords produce the
// same error, and unknown emails still pay for a bcrypt comparison.  A
// suspended account is reported only once the password is known to be right.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*AuthResult, error) {
	u, err := s.users.FindUserByEmail(ctx, email, repository.Credentials)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Internal(err)
		}
		s.hasher.Burn(password)
		s.metrics.Auth("login", "invalid_credentials")
		return nil, apperr.Authentication(MsgInvalidCredentials)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		s.metrics.Auth("login", "invalid_credentials")
		return nil, apperr.Authentication(MsgInvalidCredentials)
	}
	if u.Status == model.StatusSuspended {
		s.metrics.Auth("login", "suspended")
		return nil, apperr.Authorization(MsgAccountSuspended)
	}
	if !u.IsActive() {
		s.metrics.Auth("login", "invalid_credentials")
		return nil, apperr.Authentication(MsgInvalidCredentials)
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, apperr.Internal(err)
	}
	u.LastLoginAt = &now
	pair, err := s.tokens.IssueTokenPair(ctx, u.ID, ip)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.metrics.Auth("login", "success")
	u.PasswordHash = ""
	return &AuthResult{User: u, Tokens: pair}, nil
}

// Refresh trades a refresh token for a new pair.  The presented token is
// retired in the same transaction that stores its successor, so it can be
// used at most once.
func (s *AuthService) Refresh(ctx context.Context, raw, ip string) (TokenPair, error) {
	t, err := s.tokens.FindRefreshToken(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Auth("refresh", "invalid")
			return TokenPair{}, apperr.NotFound(MsgInvalidRefresh)
		}
		return TokenPair{}, apperr.Internal(err)
	}
	if t.Expired(s.now()) {
		if err := s.tokens.DeleteRefreshToken(ctx, raw); err != nil {
			s.log.Warn("delete expired refresh token failed", "token_id", t.ID, "err", err)
		}
		s.metrics.Auth("refresh", "expired")
		return TokenPair{}, apperr.Authentication(MsgRefreshExpired)
	}
	u, err := s.users.FindUserByID(ctx, t.UserID, repository.Public)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, apperr.Internal(err)
	}
	if err != nil || !u.IsActive() {
		s.metrics.Auth("refresh", "invalid")
		return TokenPair{}, apperr.NotFound(MsgInvalidRefresh)
	}

	pair, err := s.tokens.RotateRefreshToken(ctx, t, ip)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Auth("refresh", "replayed")
			return TokenPair{}, apperr.NotFound(MsgInvalidRefresh)
		}
		return TokenPair{}, apperr.Internal(err)
	}
	s.metrics.Auth("refresh", "success")
	return pair, nil
}

// Logout forgets the presented refresh token.  It succeeds whether or not the
// token exists.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.tokens.DeleteRefreshToken(ctx, raw); err != nil {
		return apperr.Internal(err)
	}
	s.metrics.Auth("logout", "success")
	return nil
}

// Me returns the public view of the user.
func (s *AuthService) Me(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.publicUser(ctx, id, repository.Public)
}

// ChangePassword replaces the password after checking the current one and
// signs every session out.
func (s *AuthService) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	if err := checkPassword(next); err != nil {
		return err
	}
	u, err := s.users.FindUserByID(ctx, id, repository.Credentials)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(MsgUserNotFound)
		}
		return apperr.Internal(err)
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		s.metrics.Auth("change_password", "wrong_password")
		return apperr.Validation(MsgWrongPassword)
	}
	if err := s.setPassword(ctx, u, next); err != nil {
		return err
	}
	s.metrics.Auth("change_password", "success")
	return nil
}

// ForgotPassword always returns the same message.  Only an existing active
// account gets a reset link.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ip string) (string, error) {
	u, err := s.users.FindUserByEmail(ctx, email, repository.Public)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Auth("forgot_password", "unknown")
			return MsgResetRequested, nil
		}
		return "", apperr.Internal(err)
	}
	if !u.IsActive() {
		s.metrics.Auth("forgot_password", "inactive")
		return MsgResetRequested, nil
	}
	raw, err := s.tokens.IssueResetToken(ctx, u.ID, ip)
	if err != nil {
		return "", apperr.Internal(err)
	}
	s.notify(ctx, mail.ResetPassword, u, s.link("/reset-password", raw), humanize(s.resetTTL))
	s.metrics.Auth("forgot_password", "sent")
	return MsgResetRequested, nil
}

// ResetPassword sets a new password from a reset link.  The link works once,
// and is not spent by a password that could never be stored.
func (s *AuthService) ResetPassword(ctx context.Context, token, next string) error {
	if err := checkPassword(next); err != nil {
		return err
	}
	id, err := s.tokens.ConsumeResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenUnusable) {
			s.metrics.Auth("reset_password", "invalid")
			return apperr.Validation(MsgInvalidToken)
		}
		return apperr.Internal(err)
	}
	u, err := s.users.FindUserByID(ctx, id, repository.Public)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(MsgUserNotFound)
		}
		return apperr.Internal(err)
	}
	if err := s.setPassword(ctx, u, next); err != nil {
		return err
	}
	s.metrics.Auth("reset_password", "success")
	return nil
}

// VerifyEmail marks the owner of a verification link as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	id, err := s.tokens.ConsumeVerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenUnusable) {
			s.metrics.Auth("verify_email", "invalid")
			return apperr.Validation(MsgInvalidToken)
		}
		return apperr.Internal(err)
	}
	if err := s.users.MarkEmailVerified(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(MsgUserNotFound)
		}
		return apperr.Internal(err)
	}
	s.metrics.Auth("verify_email", "success")
	return nil
}

// ResendVerification sends a fresh verification link to the user.
func (s *AuthService) ResendVerification(ctx context.Context, id uuid.UUID) error {
	u, err := s.publicUser(ctx, id, repository.Public)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return apperr.Validation(MsgAlreadyVerified)
	}
	raw, err := s.tokens.IssueVerifyToken(ctx, u.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	s.notify(ctx, mail.VerifyEmail, u, s.link("/verify-email", raw), humanize(s.verifyTTL))
	return nil
}

// GetUser is the admin view of an account; deleted accounts are included.
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.publicUser(ctx, id, repository.Lookup{WithDeleted: true})
}

// UpdateStatus suspends or reactivates an account.  Suspension signs the
// user out everywhere.
func (s *AuthService) UpdateStatus(ctx context.Context, actor, id uuid.UUID, status model.Status) (*model.User, error) {
	if actor == id {
		return nil, apperr.Validation(MsgSelfModification)
	}
	if err := s.users.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(MsgUserNotFound)
		}
		return nil, apperr.Internal(err)
	}
	if status != model.StatusActive {
		if _, err := s.tokens.RevokeAll(ctx, id, model.TokenRefresh); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	s.log.Info("user status changed", "user_id", id, "status", status, "by", actor)
	s.metrics.Auth("admin_status", status)
	return s.publicUser(ctx, id, repository.Public)
}

// DeleteUser soft-deletes an account and drops all of its tokens.
func (s *AuthService) DeleteUser(ctx context.Context, actor, id uuid.UUID) error {
	if actor == id {
		return apperr.Validation(MsgSelfModification)
	}
	if err := s.users.SoftDeleteUser(ctx, id, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(MsgUserNotFound)
		}
		return apperr.Internal(err)
	}
	if _, err := s.tokens.RevokeAll(ctx, id, model.TokenRefresh, model.TokenReset, model.TokenVerify); err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("user deleted", "user_id", id, "by", actor)
	s.metrics.Auth("admin_delete", "success")
	return nil
}

// setPassword stores a new hash, signs every session out and tells the user.
func (s *AuthService) setPassword(ctx context.Context, u *model.User, plain string) error {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(MsgUserNotFound)
		}
		return apperr.Internal(err)
	}
	n, err := s.tokens.RevokeAll(ctx, u.ID, model.TokenRefresh, model.TokenReset)
	if err != nil {
		return apperr.Internal(err)
	}
	s.log.Info("password changed", "user_id", u.ID, "revoked_tokens", n)
	s.notify(ctx, mail.PasswordChanged, u, "", "")
	return nil
}

// checkPassword rejects input the hasher cannot store before any state
// changes.
func checkPassword(plain string) error {
	if len(plain) > utils.MaxPasswordBytes {
		return apperr.Validation(MsgPasswordTooLong)
	}
	return nil
}

func (s *AuthService) publicUser(ctx context.Context, id uuid.UUID, l repository.Lookup) (*model.User, error) {
	u, err := s.users.FindUserByID(ctx, id, l)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(MsgUserNotFound)
		}
		return nil, apperr.Internal(err)
	}
	return u, nil
}

func (s *AuthService) notify(ctx context.Context, template string, u *model.User, link, expiresIn string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, queue.EmailEvent{
		Template:    template,
		To:          u.Email,
		Name:        u.Name,
		URL:         link,
		ExpiresIn:   expiresIn,
		RequestedAt: s.now().UTC(),
	})
}

func (s *AuthService) link(path, token string) string {
	return s.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func humanize(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
