package library

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error kinds returned by the core. Every returned error wraps exactly one of
// these, so callers branch with errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrState       = errors.New("invalid state")
	ErrPolicy      = errors.New("policy violation")
	ErrConflict    = errors.New("conflict")
	ErrAuth        = errors.New("not authorized")
	ErrInvalid     = errors.New("invalid input")
	ErrUnavailable = errors.New("store unavailable")
)

func kindf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
