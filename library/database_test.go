package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "lib.db")
	db, err := NewDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.db.Get(&version, `SELECT value FROM meta WHERE key='schema_version'`))
	assert.Equal(t, schemaVersion, version)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	boom := errors.New("boom")

	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO users(name,email,role) VALUES('a','a@example.com','member')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.db.Get(&n, `SELECT COUNT(*) FROM users`))
	assert.Zero(t, n)
}

func TestAvailabilityCheckConstraint(t *testing.T) {
	db := tempDB(t)
	_, err := db.db.Exec(`INSERT INTO books(title,author,isbn,total_copies,available_copies) VALUES('t','a','9780000000001',1,2)`)
	require.Error(t, err)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	require.NoError(t, mgr.Ping(ctx))
	require.NoError(t, mgr.Close())

	require.ErrorIs(t, mgr.Ping(ctx), ErrUnavailable)
	_, err := mgr.Catalog.Add(ctx, Book{Title: "t", Author: "a", ISBN: "9780000000001", TotalCopies: 1})
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = mgr.Ledger.IssueLoan(ctx, 1, 1, day(0))
	require.ErrorIs(t, err, ErrUnavailable)
}
