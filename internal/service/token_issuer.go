package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// ErrTokenUnusable is returned for a reset or verify token that is unknown,
// already used, expired or signed for another purpose.  Callers never learn
// which.
var ErrTokenUnusable = errors.New("token unusable")

// TokenPair is what login, register and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AccessExp    time.Time `json:"-"`
	RefreshExp   time.Time `json:"-"`
}

// TokenTTLs groups the lifetimes of every token kind.
type TokenTTLs struct {
	Access  time.Duration
	Refresh time.Duration
	Reset   time.Duration
	Verify  time.Duration
}

// TokenIssuer mints and verifies every token the service hands out.  Access
// tokens are stateless JWTs; refresh, reset and verify tokens are backed by
// a row in the token store so they can be revoked and used once.
type TokenIssuer struct {
	signer *utils.Signer
	store  TokenStore
	ttl    TokenTTLs
	now    func() time.Time
}

func NewTokenIssuer(signer *utils.Signer, store TokenStore, ttl TokenTTLs) *TokenIssuer {
	return &TokenIssuer{signer: signer, store: store, ttl: ttl, now: time.Now}
}

// SetClock replaces the clock of the issuer and its signer.
func (ti *TokenIssuer) SetClock(now func() time.Time) {
	ti.now = now
	ti.signer.Now = now
}

// IssueAccessToken signs a short-lived access JWT for userID.
func (ti *TokenIssuer) IssueAccessToken(userID uuid.UUID) (utils.AccessToken, error) {
	return ti.signer.NewAccessToken(userID, ti.ttl.Access)
}

// ParseAccessToken verifies an access JWT.  The error is utils.ErrTokenExpired
// or wraps utils.ErrTokenInvalid.
func (ti *TokenIssuer) ParseAccessToken(raw string) (uuid.UUID, error) {
	return ti.signer.ParseAccessToken(raw)
}

// IssueRefreshToken persists a new refresh token for userID and returns the
// raw value, which is never stored.
func (ti *TokenIssuer) IssueRefreshToken(ctx context.Context, userID uuid.UUID, ip string) (string, time.Time, error) {
	t, raw, err := ti.newRow(userID, model.TokenRefresh, ti.ttl.Refresh, ip)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := ti.store.CreateToken(ctx, t); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh token: %w", err)
	}
	return raw, t.ExpiresAt, nil
}

// IssueTokenPair issues an access token and a refresh token.
func (ti *TokenIssuer) IssueTokenPair(ctx context.Context, userID uuid.UUID, ip string) (TokenPair, error) {
	access, err := ti.IssueAccessToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, exp, err := ti.IssueRefreshToken(ctx, userID, ip)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access.Token, RefreshToken: refresh, AccessExp: access.Exp, RefreshExp: exp}, nil
}

// FindRefreshToken looks up a live refresh token by its raw value.
func (ti *TokenIssuer) FindRefreshToken(ctx context.Context, raw string) (*model.Token, error) {
	return ti.store.FindToken(ctx, utils.HashToken(raw), model.TokenRefresh)
}

// RotateRefreshToken retires old and issues its successor in one store
// transaction.  repository.ErrNotFound means another request already used
// old.
func (ti *TokenIssuer) RotateRefreshToken(ctx context.Context, old *model.Token, ip string) (TokenPair, error) {
	access, err := ti.IssueAccessToken(old.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	next, raw, err := ti.newRow(old.UserID, model.TokenRefresh, ti.ttl.Refresh, ip)
	if err != nil {
		return TokenPair{}, err
	}
	if err := ti.store.RotateToken(ctx, old.ID, ip, next); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access.Token, RefreshToken: raw, AccessExp: access.Exp, RefreshExp: next.ExpiresAt}, nil
}

// DeleteRefreshToken removes the refresh token with the given raw value, if
// any.
func (ti *TokenIssuer) DeleteRefreshToken(ctx context.Context, raw string) error {
	return ti.store.DeleteTokenByHash(ctx, utils.HashToken(raw), model.TokenRefresh)
}

// RevokeAll deletes every token of the given kinds owned by userID.
func (ti *TokenIssuer) RevokeAll(ctx context.Context, userID uuid.UUID, kinds ...model.TokenKind) (int64, error) {
	var total int64
	for _, k := range kinds {
		n, err := ti.store.DeleteUserTokens(ctx, userID, k)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// IssueResetToken signs a reset JWT and records its jti so the link works
// once.
func (ti *TokenIssuer) IssueResetToken(ctx context.Context, userID uuid.UUID, ip string) (string, error) {
	rt, err := ti.signer.NewResetToken(userID, ti.ttl.Reset)
	if err != nil {
		return "", err
	}
	t := &model.Token{
		ID:          uuid.New(),
		TokenHash:   utils.HashToken(rt.ID),
		UserID:      userID,
		Kind:        model.TokenReset,
		ExpiresAt:   rt.Exp,
		CreatedByIP: ip,
		CreatedAt:   ti.now().UTC(),
	}
	if err := ti.store.CreateToken(ctx, t); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return rt.Token, nil
}

// ConsumeResetToken verifies a reset JWT and burns its row.  It returns the
// user the link was issued to.
func (ti *TokenIssuer) ConsumeResetToken(ctx context.Context, raw string) (uuid.UUID, error) {
	userID, jti, err := ti.signer.ParseResetToken(raw)
	if err != nil {
		return uuid.Nil, ErrTokenUnusable
	}
	return ti.consume(ctx, utils.HashToken(jti), model.TokenReset, userID)
}

// IssueVerifyToken replaces any pending verification token of userID with a
// fresh one.
func (ti *TokenIssuer) IssueVerifyToken(ctx context.Context, userID uuid.UUID) (string, error) {
	if _, err := ti.store.DeleteUserTokens(ctx, userID, model.TokenVerify); err != nil {
		return "", fmt.Errorf("drop verify tokens: %w", err)
	}
	t, raw, err := ti.newRow(userID, model.TokenVerify, ti.ttl.Verify, "")
	if err != nil {
		return "", err
	}
	if err := ti.store.CreateToken(ctx, t); err != nil {
		return "", fmt.Errorf("store verify token: %w", err)
	}
	return raw, nil
}

// ConsumeVerifyToken burns a verification token and returns its owner.
func (ti *TokenIssuer) ConsumeVerifyToken(ctx context.Context, raw string) (uuid.UUID, error) {
	return ti.consume(ctx, utils.HashToken(raw), model.TokenVerify, uuid.Nil)
}

func (ti *TokenIssuer) consume(ctx context.Context, hash string, kind model.TokenKind, owner uuid.UUID) (uuid.UUID, error) {
	t, err := ti.store.FindToken(ctx, hash, kind)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, ErrTokenUnusable
	}
	if err != nil {
		return uuid.Nil, err
	}
	if owner != uuid.Nil && t.UserID != owner {
		return uuid.Nil, ErrTokenUnusable
	}
	if t.Expired(ti.now()) {
		_ = ti.store.ConsumeToken(ctx, t.ID)
		return uuid.Nil, ErrTokenUnusable
	}
	if err := ti.store.ConsumeToken(ctx, t.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, ErrTokenUnusable
		}
		return uuid.Nil, err
	}
	return t.UserID, nil
}

func (ti *TokenIssuer) newRow(userID uuid.UUID, kind model.TokenKind, ttl time.Duration, ip string) (*model.Token, string, error) {
	ot, err := utils.NewOpaqueToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	now := ti.now().UTC()
	return &model.Token{
		ID:          uuid.New(),
		TokenHash:   ot.Hash,
		UserID:      userID,
		Kind:        kind,
		ExpiresAt:   now.Add(ttl),
		CreatedByIP: ip,
		CreatedAt:   now,
	}, ot.Raw, nil
}
