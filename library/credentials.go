package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Authenticator verifies an email and secret and returns the matching user.
type Authenticator interface {
	Authenticate(ctx context.Context, email, secret string) (*User, error)
}

// Credentials is the bcrypt-backed Authenticator over the users table.
type Credentials struct {
	db   *Database
	cost int
	log  *slog.Logger
}

var _ Authenticator = (*Credentials)(nil)

// Hash validates and hashes a new password.
func (c *Credentials) Hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters long", ErrInvalid, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate returns the active user registered under email if secret
// matches. Every mismatch, unknown or not, yields the same ErrAuth.
func (c *Credentials) Authenticate(ctx context.Context, email, secret string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u User
	err := c.db.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=? AND active=1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		c.log.Warn("authentication failed", "email", email)
		return nil, fmt.Errorf("%w: invalid email or password", ErrAuth)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(secret)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			c.log.Error("compare password hash", "user_id", u.ID, "err", err)
		}
		c.log.Warn("authentication failed", "email", email)
		return nil, fmt.Errorf("%w: invalid email or password", ErrAuth)
	}
	return &u, nil
}
