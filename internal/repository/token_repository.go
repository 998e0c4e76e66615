package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/iliyamo/auth-service/internal/model"
)

// TokenRepo persists refresh, reset and verify tokens by hash.
type TokenRepo struct{ DB *bun.DB }

func NewTokenRepo(db *bun.DB) *TokenRepo { return &TokenRepo{DB: db} }

// CreateToken inserts a token row.
func (r *TokenRepo) CreateToken(ctx context.Context, t *model.Token) error {
	return insertToken(ctx, r.DB, t)
}

// FindToken returns the live (non-revoked) token with the given hash and kind.
// Expiry is left to the caller, which needs to tell "expired" from "unknown".
func (r *TokenRepo) FindToken(ctx context.Context, hash string, kind model.TokenKind) (*model.Token, error) {
	t := new(model.Token)
	err := r.DB.NewSelect().Model(t).
		Where("tok.token_hash = ?", hash).
		Where("tok.kind = ?", kind).
		Where("tok.revoked = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// RotateToken atomically retires oldID and stores next as its replacement.
// The old row must still be unrevoked; when a concurrent rotation got there
// first the transaction rolls back and ErrNotFound is returned.
func (r *TokenRepo) RotateToken(ctx context.Context, oldID uuid.UUID, revokedByIP string, next *model.Token) error {
	return r.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}
		res, err := tx.NewUpdate().Model((*model.Token)(nil)).
			Set("revoked = ?", true).
			Set("revoked_by_ip = ?", revokedByIP).
			Set("replaced_by_token = ?", next.ID).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", oldID).
			Where("revoked = ?", false).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return affected(res)
	})
}

// ConsumeToken deletes a single-use token.  Only one concurrent caller sees
// success; the others get ErrNotFound.
func (r *TokenRepo) ConsumeToken(ctx context.Context, id uuid.UUID) error {
	res, err := r.DB.NewDelete().Model((*model.Token)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

// DeleteTokenByHash removes a token if present.  Absence is not an error.
func (r *TokenRepo) DeleteTokenByHash(ctx context.Context, hash string, kind model.TokenKind) error {
	_, err := r.DB.NewDelete().Model((*model.Token)(nil)).
		Where("token_hash = ?", hash).
		Where("kind = ?", kind).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteUserTokens removes every token of the given kind owned by userID and
// reports how many rows went away.
func (r *TokenRepo) DeleteUserTokens(ctx context.Context, userID uuid.UUID, kind model.TokenKind) (int64, error) {
	res, err := r.DB.NewDelete().Model((*model.Token)(nil)).
		Where("user_id = ?", userID).
		Where("kind = ?", kind).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func insertToken(ctx context.Context, db bun.IDB, t *model.Token) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	if _, err := db.NewInsert().Model(t).Exec(ctx); err != nil {
		if isDuplicate(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
