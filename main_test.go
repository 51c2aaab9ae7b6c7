package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-catalog/library"
)

type cli struct {
	t  *testing.T
	db string
}

func newCLI(t *testing.T) *cli {
	t.Setenv("LIBRARY_ADMIN_PASSWORD", "changeme")
	t.Setenv("LIBRARY_LOG_LEVEL", "warn")
	return &cli{t: t, db: filepath.Join(t.TempDir(), "library.db")}
}

// run executes one command line; stdin feeds password prompts.
func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	a := &app{}
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(append([]string{"--db", c.db}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, out)
	return out
}

func TestCLICirculation(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("", "book", "add", "--title", "Dune", "--author", "Frank Herbert", "--isbn", "978-0441172719", "--category", "Fiction")
	assert.Contains(t, out, "Added book ID 1")

	// The bootstrap administrator takes user ID 1.
	out = c.mustRun("secret123\n", "member", "register", "--name", "Alice", "--email", "alice@example.com")
	assert.Contains(t, out, "with ID 2")
	c.mustRun("secret123\n", "member", "register", "--name", "Carol", "--email", "carol@example.com")

	out = c.mustRun("", "--today", "2025-03-01", "loan", "issue", "1", "2")
	assert.Contains(t, out, "due 2025-03-15")

	out = c.mustRun("secret123\n", "--today", "2025-03-02", "--as", "carol@example.com", "reservation", "add", "1")
	assert.Contains(t, out, "position 1")

	out = c.mustRun("secret123\n", "--today", "2025-03-21", "--as", "alice@example.com", "loan", "return", "1")
	assert.Contains(t, out, "Fine due: 6.00")

	out = c.mustRun("secret123\n", "--today", "2025-03-21", "--as", "carol@example.com", "notifications", "list", "--unread")
	assert.Contains(t, out, "being held for you")

	out = c.mustRun("", "--today", "2025-03-21", "reservation", "list", "--book", "1")
	assert.Contains(t, out, "ready")

	out = c.mustRun("secret123\n", "--today", "2025-03-22", "--as", "carol@example.com", "reservation", "fulfill", "1")
	assert.Contains(t, out, "Loan 2")

	out = c.mustRun("", "--today", "2025-03-22", "book", "find", "dune")
	assert.Contains(t, out, "0/1")

	out = c.mustRun("changeme\n", "--today", "2025-03-22", "--as", "admin@library.local", "report", "stats", "--from", "2025-03-01")
	assert.Contains(t, out, "Loans issued")
	assert.Contains(t, out, "Carol")

	out = c.mustRun("", "--today", "2025-03-22", "loan", "list", "--book", "1")
	assert.Contains(t, out, "6.00")

	out = c.mustRun("", "member", "list", "car")
	assert.Contains(t, out, "carol@example.com")
	assert.NotContains(t, out, "alice@example.com")
}

func TestCLIRejectsMemberAdminCommands(t *testing.T) {
	c := newCLI(t)
	c.mustRun("secret123\n", "member", "register", "--name", "Alice", "--email", "alice@example.com")

	_, err := c.run("secret123\n", "--as", "alice@example.com", "book", "add", "--title", "T", "--author", "A", "--isbn", "9780134190440")
	require.ErrorIs(t, err, library.ErrAuth)
	assert.Equal(t, 3, exitCode(err))

	_, err = c.run("wrong-password\n", "--as", "alice@example.com", "loan", "list")
	require.ErrorIs(t, err, library.ErrAuth)

	_, err = c.run("", "loan", "issue", "abc", "2")
	require.ErrorIs(t, err, library.ErrInvalid)
	assert.Equal(t, 1, exitCode(err))

	_, err = c.run("", "--today", "yesterday", "book", "categories")
	require.ErrorIs(t, err, library.ErrInvalid)
}

func TestCLIRestockPromotesQueue(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "book", "add", "--title", "Emma", "--author", "Austen", "--isbn", "9780141439587")
	c.mustRun("secret123\n", "member", "register", "--name", "Alice", "--email", "alice@example.com")
	c.mustRun("secret123\n", "member", "register", "--name", "Bob", "--email", "bob@example.com")
	c.mustRun("", "--today", "2025-03-01", "loan", "issue", "1", "2")
	c.mustRun("", "--today", "2025-03-01", "reservation", "add", "1", "3")

	out := c.mustRun("", "--today", "2025-03-02", "book", "update", "1", "--copies", "2")
	assert.Contains(t, out, "Held a copy for user 3")

	out = c.mustRun("", "--today", "2025-03-02", "reservation", "list", "3")
	assert.Contains(t, out, "2025-03-05")

	// The hold lapses after the grace period; startup refresh releases it.
	out = c.mustRun("", "--today", "2025-03-10", "book", "find", "emma")
	assert.Contains(t, out, "1/2")
}

func TestReadPasswordFromPipe(t *testing.T) {
	a := &app{}
	root := newRootCmd(a)
	root.SetIn(strings.NewReader("first\nsecond\n"))
	root.SetErr(&bytes.Buffer{})

	p1, err := a.readPassword(root, "one: ")
	require.NoError(t, err)
	p2, err := a.readPassword(root, "two: ")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, []string{p1, p2})

	_, err = a.readPassword(root, "three: ")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 4, exitCode(library.ErrUnavailable))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Dune", 10, "Dune"},
		{"The Left Hand of Darkness", 10, "The Lef..."},
		{"Les Misérables", 10, "Les Mis..."},
		{"Война и мир", 8, "Война..."},
		{"日本語の本", 3, "日本語"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateString(tt.in, tt.max), tt.in)
	}
	assert.Equal(t, "-", formatFine(0))
	assert.Equal(t, "12.05", formatFine(1205))
}
