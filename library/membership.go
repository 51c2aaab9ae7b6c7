package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, name, email, role, password_hash, active`

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Membership owns User entities. Password checks go through Credentials.
type Membership struct {
	db    *Database
	creds *Credentials
	log   *slog.Logger
}

func validateUser(u *User) error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	switch {
	case u.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case !emailPattern.MatchString(u.Email):
		return fmt.Errorf("%w: invalid email %q", ErrInvalid, u.Email)
	case !u.Role.Valid():
		return fmt.Errorf("%w: role must be admin or member, got %q", ErrInvalid, u.Role)
	}
	return nil
}

// Register creates an active user with the given password.
func (m *Membership) Register(ctx context.Context, u User, password string) (*User, error) {
	if err := requireCapability(ctx, CapManageMembers); err != nil {
		return nil, err
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	if err := validateUser(&u); err != nil {
		return nil, err
	}
	hash, err := m.creds.Hash(password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	u.Active = true

	err = m.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users(name,email,role,password_hash,active) VALUES(?,?,?,?,1)`,
			u.Name, u.Email, u.Role, u.PasswordHash)
		if isUniqueViolation(err) {
			return kindf(ErrConflict, "email %s is already registered", u.Email)
		}
		if err != nil {
			return err
		}
		u.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("user registered", "user_id", u.ID, "role", u.Role)
	return &u, nil
}

// Update edits name, email and role. Credentials and the active flag are
// changed through ChangePassword and Deactivate.
func (m *Membership) Update(ctx context.Context, u User) (*User, error) {
	if err := requireSelf(ctx, u.ID, CapBrowse); err != nil {
		return nil, err
	}
	if err := validateUser(&u); err != nil {
		return nil, err
	}

	var out *User
	err := m.db.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := m.getUser(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if cur.Role != u.Role {
			if err := requireCapability(ctx, CapManageMembers); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET name=?, email=?, role=? WHERE id=?`, u.Name, u.Email, u.Role, u.ID)
		if isUniqueViolation(err) {
			return kindf(ErrConflict, "email %s is already registered", u.Email)
		}
		if err != nil {
			return err
		}
		cur.Name, cur.Email, cur.Role = u.Name, u.Email, u.Role
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Deactivate disables a user who has nothing borrowed or queued.
func (m *Membership) Deactivate(ctx context.Context, userID int64) error {
	if err := requireCapability(ctx, CapManageMembers); err != nil {
		return err
	}
	err := m.db.withTx(ctx, func(tx *sqlx.Tx) error {
		u, err := m.getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !u.Active {
			return kindf(ErrState, "user %d is already deactivated", userID)
		}

		loans, err := countOutstandingLoans(ctx, tx, userID)
		if err != nil {
			return err
		}
		if loans > 0 {
			return kindf(ErrConflict, "user %d has %d outstanding loans", userID, loans)
		}
		reservations, err := countActiveReservations(ctx, tx, userID)
		if err != nil {
			return err
		}
		if reservations > 0 {
			return kindf(ErrConflict, "user %d has %d active reservations", userID, reservations)
		}

		_, err = tx.ExecContext(ctx, `UPDATE users SET active=0 WHERE id=?`, userID)
		return err
	})
	if err != nil {
		return err
	}
	m.log.Info("user deactivated", "user_id", userID)
	return nil
}

// ChangePassword replaces a user's password.
func (m *Membership) ChangePassword(ctx context.Context, userID int64, password string) error {
	if err := requireSelf(ctx, userID, CapBrowse); err != nil {
		return err
	}
	hash, err := m.creds.Hash(password)
	if err != nil {
		return err
	}
	return m.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := m.getUser(ctx, tx, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, hash, userID)
		return err
	})
}

// EnsureAdmin registers a default administrator unless an active one exists.
// It reports whether a user was created.
func (m *Membership) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	var admins int
	if err := m.db.db.GetContext(ctx, &admins, `SELECT COUNT(*) FROM users WHERE role='admin' AND active=1`); err != nil {
		return false, err
	}
	if admins > 0 {
		return false, nil
	}
	if _, err := m.Register(ctx, User{Name: name, Email: email, Role: RoleAdmin}, password); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Membership) Get(ctx context.Context, userID int64) (*User, error) {
	return m.getUser(ctx, m.db.db, userID)
}

func (m *Membership) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := m.db.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kindf(ErrNotFound, "user %s", email)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserFilter narrows List. Zero values match every active user.
type UserFilter struct {
	Query           string // substring of name or email
	IncludeInactive bool
}

// List returns the users matching f ordered by name, then id.
func (m *Membership) List(ctx context.Context, f UserFilter) ([]User, error) {
	if err := requireCapability(ctx, CapManageMembers); err != nil {
		return nil, err
	}
	ds := dialect.From("users").Prepared(true).
		Select(goqu.L(userColumns)).
		Order(goqu.C("name").Asc(), goqu.C("id").Asc())
	if !f.IncludeInactive {
		ds = ds.Where(goqu.C("active").Eq(1))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + q + "%"
		ds = ds.Where(goqu.Or(goqu.C("name").Like(pattern), goqu.C("email").Like(pattern)))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	users := []User{}
	if err := m.db.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, err
	}
	return users, nil
}

func (m *Membership) getUser(ctx context.Context, q sqlx.QueryerContext, userID int64) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, q, &u, `SELECT `+userColumns+` FROM users WHERE id=?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kindf(ErrNotFound, "user %d", userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// getActiveUser is getUser that also rejects deactivated accounts.
func (m *Membership) getActiveUser(ctx context.Context, q sqlx.QueryerContext, userID int64) (*User, error) {
	u, err := m.getUser(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, kindf(ErrState, "user %d is deactivated", userID)
	}
	return u, nil
}

func countOutstandingLoans(ctx context.Context, q sqlx.QueryerContext, userID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM loans WHERE user_id=? AND return_date IS NULL`, userID)
	return n, err
}

func countActiveReservations(ctx context.Context, q sqlx.QueryerContext, userID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM reservations WHERE user_id=? AND status IN ('pending','ready')`, userID)
	return n, err
}
