// Package service implements the authentication state machine on top of the
// user and token stores.  Handlers stay thin: they validate input, call one
// method here and map the returned apperr to a response.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
)

// UserStore is the credential store.  repository.UserRepo and
// repository.Memory implement it.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	FindUserByEmail(ctx context.Context, email string, l repository.Lookup) (*model.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID, l repository.Lookup) (*model.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	SoftDeleteUser(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TokenStore persists refresh, reset and verify tokens by hash.
type TokenStore interface {
	CreateToken(ctx context.Context, t *model.Token) error
	FindToken(ctx context.Context, hash string, kind model.TokenKind) (*model.Token, error)
	RotateToken(ctx context.Context, oldID uuid.UUID, revokedByIP string, next *model.Token) error
	ConsumeToken(ctx context.Context, id uuid.UUID) error
	DeleteTokenByHash(ctx context.Context, hash string, kind model.TokenKind) error
	DeleteUserTokens(ctx context.Context, userID uuid.UUID, kind model.TokenKind) (int64, error)
}

var (
	_ UserStore  = (*repository.UserRepo)(nil)
	_ TokenStore = (*repository.TokenRepo)(nil)
	_ UserStore  = (*repository.Memory)(nil)
	_ TokenStore = (*repository.Memory)(nil)
)
