package crawlerdb

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDoesNotExist is returned when a lookup finds no resource.
var ErrDoesNotExist = errors.New("resource does not exist")

// pgUniqueViolation is the Postgres SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// StorageError is returned when the database cannot serve a request.
type StorageError struct {
	Op  string
	URL string
	Err error
}

func (e *StorageError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("crawlerdb: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crawlerdb: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// isUniqueViolation reports whether err is a unique constraint failure from
// one of the supported drivers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
