package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	"github.com/iliyamo/auth-service/internal/model"
)

// recorder matches expectations by regexp and keeps every statement bun sent.
type recorder struct {
	mu  sync.Mutex
	sql []string
}

func (r *recorder) Match(expectedSQL, actualSQL string) error {
	r.mu.Lock()
	r.sql = append(r.sql, actualSQL)
	r.mu.Unlock()
	return sqlmock.QueryMatcherRegexp.Match(expectedSQL, actualSQL)
}

func (r *recorder) last(prefix string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sql) - 1; i >= 0; i-- {
		if regexp.MustCompile(prefix).MatchString(r.sql[i]) {
			return r.sql[i]
		}
	}
	return ""
}

func newBunWithMock(t *testing.T) (*bun.DB, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	rec := &recorder{}
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(rec))
	require.NoError(t, err)
	// The dialect may probe the server version on startup.
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`SELECT version\(\)`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("8.0.36"))

	db := bun.NewDB(sqldb, mysqldialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, rec
}

func userRows(id uuid.UUID, email string) *sqlmock.Rows {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "email", "name", "role", "is_email_verified", "status", "last_login_at", "created_at", "updated_at", "deleted_at"}).
		AddRow(id.String(), email, "Alice", "user", true, "active", nil, now, now, nil)
}

func TestFindUserByEmail_PublicLookupSkipsSecretsAndDeleted(t *testing.T) {
	db, mock, rec := newBunWithMock(t)
	repo := NewUserRepo(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .* FROM .users. AS .usr. WHERE .*alice@example\.com.*usr\.deleted_at IS NULL.*LIMIT 1`).
		WillReturnRows(userRows(id, "alice@example.com"))

	u, err := repo.FindUserByEmail(context.Background(), "  Alice@Example.com ", Public)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.EmailVerified)
	assert.Empty(t, u.PasswordHash)

	stmt := rec.last(`FROM .users.`)
	assert.NotContains(t, stmt, "password_hash")
}

func TestFindUserByEmail_WithDeletedOrdersLiveFirst(t *testing.T) {
	db, mock, rec := newBunWithMock(t)
	repo := NewUserRepo(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .* FROM .users. AS .usr. WHERE .*alice@example\.com.*ORDER BY usr\.deleted_at IS NULL DESC, usr\.deleted_at DESC.*LIMIT 1`).
		WillReturnRows(userRows(id, "alice@example.com"))

	u, err := repo.FindUserByEmail(context.Background(), "alice@example.com", Lookup{WithDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.NotContains(t, rec.last(`FROM .users.`), "deleted_at IS NULL)")
}

func TestFindUserByID_NotFound(t *testing.T) {
	db, mock, _ := newBunWithMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`(?s)SELECT .* FROM .users. AS .usr.`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindUserByID(context.Background(), uuid.New(), Credentials)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db, mock, _ := newBunWithMock(t)
	repo := NewUserRepo(db)

	mock.ExpectExec(`INSERT INTO .users.`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uq_users_active_email'"})

	err := repo.CreateUser(context.Background(), &model.User{ID: uuid.New(), Email: "BOB@example.com", Name: "Bob"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestCreateUser_NormalizesEmail(t *testing.T) {
	db, mock, rec := newBunWithMock(t)
	repo := NewUserRepo(db)

	mock.ExpectExec(`INSERT INTO .users.`).WillReturnResult(sqlmock.NewResult(0, 1))

	u := &model.User{ID: uuid.New(), Email: " Bob@Example.COM", Name: "Bob", Role: model.RoleUser, Status: model.StatusActive}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	assert.Equal(t, "bob@example.com", u.Email)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Contains(t, rec.last(`INSERT INTO`), "bob@example.com")
}

func TestUpdatePassword_NoLiveRow(t *testing.T) {
	db, mock, rec := newBunWithMock(t)
	repo := NewUserRepo(db)

	mock.ExpectExec(`UPDATE .users.`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePassword(context.Background(), uuid.New(), "hash")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, rec.last(`UPDATE`), "deleted_at IS NULL")
}

func TestRotateToken_Commits(t *testing.T) {
	db, mock, _ := newBunWithMock(t)
	repo := NewTokenRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO .tokens.`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE .tokens. .*revoked`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next := &model.Token{ID: uuid.New(), UserID: uuid.New(), TokenHash: "h2", Kind: model.TokenRefresh, ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.RotateToken(context.Background(), uuid.New(), "10.0.0.1", next)
	require.NoError(t, err)
}

func TestRotateToken_AlreadyConsumedRollsBack(t *testing.T) {
	db, mock, _ := newBunWithMock(t)
	repo := NewTokenRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO .tokens.`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE .tokens. .*revoked`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := &model.Token{ID: uuid.New(), UserID: uuid.New(), TokenHash: "h3", Kind: model.TokenRefresh, ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.RotateToken(context.Background(), uuid.New(), "10.0.0.1", next)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserTokens_ReportsCount(t *testing.T) {
	db, mock, rec := newBunWithMock(t)
	repo := NewTokenRepo(db)

	mock.ExpectExec(`DELETE FROM .tokens.`).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteUserTokens(context.Background(), uuid.New(), model.TokenRefresh)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Contains(t, rec.last(`DELETE`), "'refresh'")
}

func TestConsumeToken_SecondCallerLoses(t *testing.T) {
	db, mock, _ := newBunWithMock(t)
	repo := NewTokenRepo(db)

	mock.ExpectExec(`DELETE FROM .tokens.`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ConsumeToken(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
