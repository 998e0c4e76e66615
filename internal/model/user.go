package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the authorization role stored on a user.
type Role = string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Status is the lifecycle state of an account.
type Status = string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// ValidStatus reports whether s is one of the known account states.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// User mirrors the `users` table.  PasswordHash never leaves the service:
// it carries json:"-" and repositories only select it when a credential
// check needs it.  DeletedAt is an ordinary column; soft-delete filtering is
// applied explicitly by the repository scopes.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID            uuid.UUID  `bun:"id,pk,type:char(36)" json:"id"`
	Email         string     `bun:"email,notnull" json:"email"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	Name          string     `bun:"name,notnull" json:"name"`
	Role          Role       `bun:"role,notnull" json:"role"`
	EmailVerified bool       `bun:"is_email_verified,notnull" json:"isEmailVerified"`
	Status        Status     `bun:"status,notnull" json:"status"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
	DeletedAt     *time.Time `bun:"deleted_at,nullzero" json:"-"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.DeletedAt == nil && u.Status == StatusActive
}
