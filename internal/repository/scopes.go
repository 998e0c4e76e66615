package repository

import "github.com/uptrace/bun"

// Lookup states, per query, which rows and columns a user read may see.
// Nothing is hidden or filtered implicitly: callers that verify a password
// ask for secrets, and only admin tooling asks for deleted rows.
type Lookup struct {
	WithSecrets bool
	WithDeleted bool
}

// Credentials is the lookup used for password checks.
var Credentials = Lookup{WithSecrets: true}

// Public is the lookup used for anything returned to a client.
var Public = Lookup{}

// NotDeleted restricts a user query to rows that have not been soft-deleted.
func NotDeleted(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Where("usr.deleted_at IS NULL")
}

// WithoutSecrets drops the credential columns from the selection.  The query
// must already carry its model.
func WithoutSecrets(q *bun.SelectQuery) *bun.SelectQuery {
	return q.ExcludeColumn("password_hash")
}

func (l Lookup) apply(q *bun.SelectQuery) *bun.SelectQuery {
	if !l.WithDeleted {
		q = q.Apply(NotDeleted)
	}
	if !l.WithSecrets {
		q = q.Apply(WithoutSecrets)
	}
	return q
}
