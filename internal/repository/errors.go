// Package repository holds the Credential Store and Token Store.  The MySQL
// implementations use the bun query builder; Memory implements the same
// methods for local runs and tests.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when no live row matches a lookup, or when a
// conditional update or delete touched no rows.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a non-deleted user already owns the email.
var ErrEmailExists = errors.New("email already exists")

// ErrDuplicateToken is returned when a token hash collides with a stored one.
var ErrDuplicateToken = errors.New("duplicate token")

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
