package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenKind distinguishes the purposes a stored token can serve.
type TokenKind = string

const (
	TokenRefresh TokenKind = "refresh"
	TokenReset   TokenKind = "reset"
	TokenVerify  TokenKind = "verify"
)

// Token models a row of the `tokens` table.  Only the SHA-256 hex digest of
// the value handed to the client is stored.  ReplacedByToken points at the
// row that superseded this one during refresh rotation.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:tok"`

	ID              uuid.UUID  `bun:"id,pk,type:char(36)"`
	TokenHash       string     `bun:"token_hash,notnull"`
	UserID          uuid.UUID  `bun:"user_id,type:char(36),notnull"`
	Kind            TokenKind  `bun:"kind,notnull"`
	ExpiresAt       time.Time  `bun:"expires_at,notnull"`
	CreatedByIP     string     `bun:"created_by_ip,nullzero"`
	Revoked         bool       `bun:"revoked,notnull"`
	RevokedByIP     string     `bun:"revoked_by_ip,nullzero"`
	ReplacedByToken *uuid.UUID `bun:"replaced_by_token,type:char(36)"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
