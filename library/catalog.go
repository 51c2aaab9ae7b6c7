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
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
)

var dialect = goqu.Dialect("sqlite3")

const bookColumns = `id, title, author, category, isbn, total_copies, available_copies, withdrawn`

var isbnPattern = regexp.MustCompile(`^(\d{9}[\dX]|\d{13})$`)

// Catalog owns Book entities and their availability counts.
type Catalog struct {
	db    *Database
	queue *ReservationQueue
	log   *slog.Logger
}

// Criteria narrows Find. Zero values match everything.
type Criteria struct {
	Query         string // substring of title, author or ISBN
	Category      string
	AvailableOnly bool
}

// normalizeISBN strips hyphens and spaces.
func normalizeISBN(isbn string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(strings.ToUpper(strings.TrimSpace(isbn)))
}

func validateBook(b *Book) error {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.Category = strings.TrimSpace(b.Category)
	b.ISBN = normalizeISBN(b.ISBN)

	switch {
	case b.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case b.Author == "":
		return fmt.Errorf("%w: author is required", ErrInvalid)
	case !isbnPattern.MatchString(b.ISBN):
		return fmt.Errorf("%w: ISBN %q must be 10 or 13 digits", ErrInvalid, b.ISBN)
	case b.TotalCopies < 0:
		return fmt.Errorf("%w: total copies must not be negative", ErrInvalid)
	}
	return nil
}

// Add registers a new title with all of its copies available.
func (c *Catalog) Add(ctx context.Context, b Book) (*Book, error) {
	if err := requireCapability(ctx, CapManageCatalog); err != nil {
		return nil, err
	}
	if err := validateBook(&b); err != nil {
		return nil, err
	}
	b.AvailableCopies = b.TotalCopies

	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO books(title,author,category,isbn,total_copies,available_copies) VALUES(?,?,?,?,?,?)`,
			b.Title, b.Author, b.Category, b.ISBN, b.TotalCopies, b.AvailableCopies)
		if isUniqueViolation(err) {
			return kindf(ErrConflict, "a book with ISBN %s already exists", b.ISBN)
		}
		if err != nil {
			return err
		}
		b.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("book added", "book_id", b.ID, "isbn", b.ISBN, "copies", b.TotalCopies)
	return &b, nil
}

// Update edits a book's metadata and copy count. Changing TotalCopies moves
// AvailableCopies by the same amount; copies currently lent out or held for a
// reservation cannot be removed. New copies go to the book's pending queue
// before the shelf, in the same transaction; the promoted reservations are
// returned.
func (c *Catalog) Update(ctx context.Context, b Book, today Date) (*Book, []Reservation, error) {
	if err := requireCapability(ctx, CapManageCatalog); err != nil {
		return nil, nil, err
	}
	if err := validateBook(&b); err != nil {
		return nil, nil, err
	}

	var promoted []Reservation
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		promoted = nil
		cur, err := c.getBook(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		b.AvailableCopies = cur.AvailableCopies + (b.TotalCopies - cur.TotalCopies)
		if b.AvailableCopies < 0 {
			return kindf(ErrState, "book %d has %d copies out; total cannot drop to %d",
				b.ID, cur.TotalCopies-cur.AvailableCopies, b.TotalCopies)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE books SET title=?, author=?, category=?, isbn=?, total_copies=?, available_copies=? WHERE id=?`,
			b.Title, b.Author, b.Category, b.ISBN, b.TotalCopies, b.AvailableCopies, b.ID)
		if isUniqueViolation(err) {
			return kindf(ErrConflict, "a book with ISBN %s already exists", b.ISBN)
		}
		if err != nil {
			return err
		}

		for b.AvailableCopies > 0 {
			next, err := c.queue.onCopyFreed(ctx, tx, b.ID, today)
			if err != nil {
				return err
			}
			if next == nil {
				break
			}
			b.AvailableCopies--
			promoted = append(promoted, *next)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.log.Info("book updated", "book_id", b.ID, "promoted", len(promoted))
	for i := range promoted {
		c.queue.logPromotion(&promoted[i])
	}
	return &b, promoted, nil
}

// Remove withdraws a book from the catalog. Loan history keeps pointing at
// the withdrawn row.
func (c *Catalog) Remove(ctx context.Context, bookID int64) error {
	if err := requireCapability(ctx, CapManageCatalog); err != nil {
		return err
	}
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := c.getBook(ctx, tx, bookID); err != nil {
			return err
		}

		var loans, reservations int
		if err := tx.GetContext(ctx, &loans,
			`SELECT COUNT(*) FROM loans WHERE book_id=? AND return_date IS NULL`, bookID); err != nil {
			return err
		}
		if loans > 0 {
			return kindf(ErrConflict, "book %d has %d outstanding loans", bookID, loans)
		}
		if err := tx.GetContext(ctx, &reservations,
			`SELECT COUNT(*) FROM reservations WHERE book_id=? AND status IN ('pending','ready')`, bookID); err != nil {
			return err
		}
		if reservations > 0 {
			return kindf(ErrConflict, "book %d has %d active reservations", bookID, reservations)
		}

		_, err := tx.ExecContext(ctx, `UPDATE books SET withdrawn=1 WHERE id=?`, bookID)
		return err
	})
	if err != nil {
		return err
	}
	c.log.Info("book removed", "book_id", bookID)
	return nil
}

func (c *Catalog) Get(ctx context.Context, bookID int64) (*Book, error) {
	return c.getBook(ctx, c.db.db, bookID)
}

// Find returns the books matching crit ordered by title.
func (c *Catalog) Find(ctx context.Context, crit Criteria) ([]Book, error) {
	ds := dialect.From("books").Prepared(true).
		Select(goqu.L(bookColumns)).
		Where(goqu.C("withdrawn").Eq(0)).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc())

	if q := strings.TrimSpace(crit.Query); q != "" {
		pattern := "%" + q + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").Like(pattern),
			goqu.C("author").Like(pattern),
			goqu.C("isbn").Like(pattern),
		))
	}
	if cat := strings.TrimSpace(crit.Category); cat != "" {
		ds = ds.Where(goqu.C("category").Eq(cat))
	}
	if crit.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find query: %w", err)
	}
	books := []Book{}
	if err := c.db.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, err
	}
	return books, nil
}

// Categories lists the distinct non-empty categories in the catalog.
func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	cats := []string{}
	err := c.db.db.SelectContext(ctx, &cats,
		`SELECT DISTINCT category FROM books WHERE withdrawn=0 AND category != '' ORDER BY category`)
	return cats, err
}

// DecrementAvailable takes one copy off the shelf. Callers must already have
// confirmed a copy is free.
func (c *Catalog) DecrementAvailable(ctx context.Context, bookID int64) error {
	if err := requireCapability(ctx, CapManageCatalog); err != nil {
		return err
	}
	return c.db.withTx(ctx, func(tx *sqlx.Tx) error { return c.decrementAvailable(ctx, tx, bookID) })
}

// IncrementAvailable puts one copy back on the shelf.
func (c *Catalog) IncrementAvailable(ctx context.Context, bookID int64) error {
	if err := requireCapability(ctx, CapManageCatalog); err != nil {
		return err
	}
	return c.db.withTx(ctx, func(tx *sqlx.Tx) error { return c.incrementAvailable(ctx, tx, bookID) })
}

// ---------------------------------------------------------------------------
// Transaction-scoped helpers used by the ledger and the reservation queue
// ---------------------------------------------------------------------------

func (c *Catalog) getBook(ctx context.Context, q sqlx.QueryerContext, bookID int64) (*Book, error) {
	var b Book
	err := sqlx.GetContext(ctx, q, &b, `SELECT `+bookColumns+` FROM books WHERE id=? AND withdrawn=0`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kindf(ErrNotFound, "book %d", bookID)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Catalog) decrementAvailable(ctx context.Context, tx sqlx.ExtContext, bookID int64) error {
	return c.shiftAvailable(ctx, tx, bookID,
		`UPDATE books SET available_copies = available_copies - 1 WHERE id=? AND withdrawn=0 AND available_copies > 0`,
		"no copies of book %d are available")
}

func (c *Catalog) incrementAvailable(ctx context.Context, tx sqlx.ExtContext, bookID int64) error {
	return c.shiftAvailable(ctx, tx, bookID,
		`UPDATE books SET available_copies = available_copies + 1 WHERE id=? AND withdrawn=0 AND available_copies < total_copies`,
		"all copies of book %d are already on the shelf")
}

func (c *Catalog) shiftAvailable(ctx context.Context, tx sqlx.ExtContext, bookID int64, stmt, bounds string) error {
	res, err := tx.ExecContext(ctx, stmt, bookID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := c.getBook(ctx, tx, bookID); err != nil {
		return err
	}
	return kindf(ErrState, bounds, bookID)
}

// bookTitle reads a title for notification text, withdrawn books included.
func bookTitle(ctx context.Context, q sqlx.QueryerContext, bookID int64) (string, error) {
	var title string
	err := sqlx.GetContext(ctx, q, &title, `SELECT title FROM books WHERE id=?`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kindf(ErrNotFound, "book %d", bookID)
	}
	return title, err
}
