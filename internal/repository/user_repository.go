package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/iliyamo/auth-service/internal/model"
)

// UserRepo persists users through bun.
type UserRepo struct{ DB *bun.DB }

func NewUserRepo(db *bun.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u.  A duplicate live email maps to ErrEmailExists.
func (r *UserRepo) CreateUser(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	if _, err := r.DB.NewInsert().Model(u).Exec(ctx); err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindUserByEmail fetches a user by normalized email.  When deleted rows are
// visible the live account still wins over earlier deleted ones.
func (r *UserRepo) FindUserByEmail(ctx context.Context, email string, l Lookup) (*model.User, error) {
	u := new(model.User)
	q := r.DB.NewSelect().Model(u).Where("usr.email = ?", NormalizeEmail(email))
	if l.WithDeleted {
		q = q.OrderExpr("usr.deleted_at IS NULL DESC").OrderExpr("usr.deleted_at DESC")
	}
	if err := l.apply(q).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// FindUserByID fetches a user by id.
func (r *UserRepo) FindUserByID(ctx context.Context, id uuid.UUID, l Lookup) (*model.User, error) {
	u := new(model.User)
	q := r.DB.NewSelect().Model(u).Where("usr.id = ?", id)
	if err := l.apply(q).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// UpdatePassword stores a new password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.update(ctx, id, map[string]any{"password_hash": hash})
}

// TouchLastLogin records a successful login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, map[string]any{"last_login_at": at})
}

// MarkEmailVerified flips the verified flag.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, map[string]any{"is_email_verified": true})
}

// UpdateStatus changes the account status of a live user.
func (r *UserRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	return r.update(ctx, id, map[string]any{"status": status})
}

// SoftDeleteUser marks the user deleted.  The row and its email stay in the
// table but drop out of the unique index on live emails.
func (r *UserRepo) SoftDeleteUser(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, map[string]any{"deleted_at": at, "status": model.StatusDeleted})
}

func (r *UserRepo) update(ctx context.Context, id uuid.UUID, cols map[string]any) error {
	q := r.DB.NewUpdate().Model((*model.User)(nil))
	for col, v := range cols {
		q = q.Set("? = ?", bun.Ident(col), v)
	}
	res, err := q.Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
