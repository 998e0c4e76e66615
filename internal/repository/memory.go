package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/auth-service/internal/model"
)

// Memory is an in-process store implementing both the user and the token
// methods of the MySQL repositories.  It enforces the same uniqueness rules
// (live email, token hash) under a single mutex.
type Memory struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*model.User
	tokens map[uuid.UUID]*model.Token
}

func NewMemory() *Memory {
	return &Memory{
		users:  map[uuid.UUID]*model.User{},
		tokens: map[uuid.UUID]*model.Token{},
	}
}

func (m *Memory) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.DeletedAt == nil && existing.Email == u.Email {
			return ErrEmailExists
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string, l Lookup) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = NormalizeEmail(email)
	var found *model.User
	for _, u := range m.users {
		if u.Email != email || (!l.WithDeleted && u.DeletedAt != nil) {
			continue
		}
		if found == nil || preferUser(u, found) {
			found = u
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return project(found, l), nil
}

// preferUser orders rows sharing an email: the live row first, then the most
// recently deleted one.
func preferUser(a, b *model.User) bool {
	switch {
	case a.DeletedAt == nil:
		return b.DeletedAt != nil
	case b.DeletedAt == nil:
		return false
	}
	return a.DeletedAt.After(*b.DeletedAt)
}

func (m *Memory) FindUserByID(_ context.Context, id uuid.UUID, l Lookup) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || (!l.WithDeleted && u.DeletedAt != nil) {
		return nil, ErrNotFound
	}
	return project(u, l), nil
}

func (m *Memory) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return m.mutateUser(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *Memory) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.mutateUser(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (m *Memory) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return m.mutateUser(id, func(u *model.User) { u.EmailVerified = true })
}

func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, status model.Status) error {
	return m.mutateUser(id, func(u *model.User) { u.Status = status })
}

func (m *Memory) SoftDeleteUser(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.mutateUser(id, func(u *model.User) {
		u.DeletedAt = &at
		u.Status = model.StatusDeleted
	})
}

func (m *Memory) CreateToken(_ context.Context, t *model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertToken(t)
}

func (m *Memory) FindToken(_ context.Context, hash string, kind model.TokenKind) (*model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash && t.Kind == kind && !t.Revoked {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) RotateToken(_ context.Context, oldID uuid.UUID, revokedByIP string, next *model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok || old.Revoked {
		return ErrNotFound
	}
	if err := m.insertToken(next); err != nil {
		return err
	}
	id := next.ID
	old.Revoked = true
	old.RevokedByIP = revokedByIP
	old.ReplacedByToken = &id
	old.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ConsumeToken(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, id)
	return nil
}

func (m *Memory) DeleteTokenByHash(_ context.Context, hash string, kind model.TokenKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tokens {
		if t.TokenHash == hash && t.Kind == kind {
			delete(m.tokens, id)
		}
	}
	return nil
}

func (m *Memory) DeleteUserTokens(_ context.Context, userID uuid.UUID, kind model.TokenKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.UserID == userID && t.Kind == kind {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// CountUsers returns the number of stored users, deleted ones included.
func (m *Memory) CountUsers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// Tokens returns copies of the tokens owned by userID.
func (m *Memory) Tokens(userID uuid.UUID) []model.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Token
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

func (m *Memory) insertToken(t *model.Token) error {
	if _, ok := m.users[t.UserID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.tokens {
		if existing.TokenHash == t.TokenHash {
			return ErrDuplicateToken
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	c := *t
	m.tokens[t.ID] = &c
	return nil
}

func (m *Memory) mutateUser(id uuid.UUID, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func project(u *model.User, l Lookup) *model.User {
	c := *u
	if !l.WithSecrets {
		c.PasswordHash = ""
	}
	return &c
}
