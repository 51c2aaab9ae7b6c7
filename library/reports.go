package library

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
)

// Reports is the read-only surface used by presentation and export code. It
// enumerates records and aggregates; it never formats them.
type Reports struct {
	db *Database
}

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	UserID      int64
	BookID      int64
	Outstanding bool // only loans not yet returned
	Returned    bool // only returned loans
}

// LoanDetail is a loan joined with the names a screen needs to show it.
type LoanDetail struct {
	Loan
	Title     string `db:"title" json:"title"`
	ISBN      string `db:"isbn" json:"isbn"`
	UserName  string `db:"user_name" json:"user_name"`
	UserEmail string `db:"user_email" json:"user_email"`
}

// QueueEntry is a reservation joined with its member's name.
type QueueEntry struct {
	Reservation
	UserName  string `db:"user_name" json:"user_name"`
	UserEmail string `db:"user_email" json:"user_email"`
}

type BorrowerCount struct {
	UserID int64  `db:"user_id" json:"user_id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Loans  int    `db:"loans" json:"loans"`
}

type BookCount struct {
	BookID int64  `db:"book_id" json:"book_id"`
	Title  string `db:"title" json:"title"`
	Author string `db:"author" json:"author"`
	Loans  int    `db:"loans" json:"loans"`
}

// Statistics summarizes circulation between From and To inclusive.
type Statistics struct {
	From                 Date            `json:"from"`
	To                   Date            `json:"to"`
	LoansIssued          int             `json:"loans_issued"`
	ActiveLoans          int             `json:"active_loans"`
	OverdueLoans         int             `json:"overdue_loans"`
	PendingReservations  int             `json:"pending_reservations"`
	ReadyReservations    int             `json:"ready_reservations"`
	OutstandingFineCents int64           `json:"outstanding_fine_cents"`
	CollectedFineCents   int64           `json:"collected_fine_cents"`
	TopBorrowers         []BorrowerCount `json:"top_borrowers"`
}

func loanDetails() *goqu.SelectDataset {
	return dialect.From(goqu.T("loans").As("l")).Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Select(
			goqu.I("l.id"), goqu.I("l.book_id"), goqu.I("l.user_id"), goqu.I("l.issue_date"),
			goqu.I("l.due_date"), goqu.I("l.return_date"), goqu.I("l.fine_cents"), goqu.I("l.overdue_notified"),
			goqu.I("b.title"), goqu.I("b.isbn"),
			goqu.I("u.name").As("user_name"), goqu.I("u.email").As("user_email"),
		)
}

func (r *Reports) selectLoans(ctx context.Context, ds *goqu.SelectDataset) ([]LoanDetail, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	out := []LoanDetail{}
	if err := r.db.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActiveLoans returns userID's outstanding loans, earliest due first.
func (r *Reports) ListActiveLoans(ctx context.Context, userID int64) ([]LoanDetail, error) {
	if err := requireSelf(ctx, userID, CapBrowse); err != nil {
		return nil, err
	}
	return r.ListLoans(ctx, LoanFilter{UserID: userID, Outstanding: true})
}

// ListLoans enumerates loans matching f, earliest due first.
func (r *Reports) ListLoans(ctx context.Context, f LoanFilter) ([]LoanDetail, error) {
	if err := requireSelf(ctx, f.UserID, CapBrowse); err != nil {
		return nil, err
	}
	ds := loanDetails().Order(goqu.I("l.due_date").Asc(), goqu.I("l.id").Asc())
	if f.UserID != 0 {
		ds = ds.Where(goqu.I("l.user_id").Eq(f.UserID))
	}
	if f.BookID != 0 {
		ds = ds.Where(goqu.I("l.book_id").Eq(f.BookID))
	}
	if f.Outstanding {
		ds = ds.Where(goqu.I("l.return_date").IsNull())
	}
	if f.Returned {
		ds = ds.Where(goqu.I("l.return_date").IsNotNull())
	}
	return r.selectLoans(ctx, ds)
}

// LoanHistoryForBook returns every loan of bookID, most recent first.
func (r *Reports) LoanHistoryForBook(ctx context.Context, bookID int64) ([]LoanDetail, error) {
	if err := requireCapability(ctx, CapActForOthers); err != nil {
		return nil, err
	}
	ds := loanDetails().
		Where(goqu.I("l.book_id").Eq(bookID)).
		Order(goqu.I("l.issue_date").Desc(), goqu.I("l.id").Desc())
	return r.selectLoans(ctx, ds)
}

// ListOverdue returns every outstanding loan past due on today.
func (r *Reports) ListOverdue(ctx context.Context, today Date) ([]LoanDetail, error) {
	if err := requireCapability(ctx, CapActForOthers); err != nil {
		return nil, err
	}
	ds := loanDetails().
		Where(goqu.I("l.return_date").IsNull(), goqu.I("l.due_date").Lt(today.String())).
		Order(goqu.I("l.due_date").Asc(), goqu.I("l.id").Asc())
	return r.selectLoans(ctx, ds)
}

// ListReservations returns bookID's active reservations: ready holds first,
// then the pending queue in FIFO order. A member sees who else is queued only
// as a position; names and emails of other members are blanked.
func (r *Reports) ListReservations(ctx context.Context, bookID int64) ([]QueueEntry, error) {
	if err := requireCapability(ctx, CapBrowse); err != nil {
		return nil, err
	}
	out := []QueueEntry{}
	err := r.db.db.SelectContext(ctx, &out, `
        SELECT r.id, r.book_id, r.user_id, r.reservation_date, r.status, r.ready_date, r.expires_date,
               u.name AS user_name, u.email AS user_email
        FROM reservations r
        JOIN users u ON u.id = r.user_id
        WHERE r.book_id = ? AND r.status IN ('pending','ready')
        ORDER BY CASE r.status WHEN 'ready' THEN 0 ELSE 1 END, r.reservation_date, r.id`, bookID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if requireSelf(ctx, out[i].UserID, CapBrowse) != nil {
			out[i].UserName, out[i].UserEmail = "", ""
		}
	}
	return out, nil
}

// PopularBooks returns the most borrowed titles.
func (r *Reports) PopularBooks(ctx context.Context, limit int) ([]BookCount, error) {
	if limit <= 0 {
		limit = 10
	}
	query, args, err := dialect.From(goqu.T("loans").As("l")).Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(goqu.I("b.id").As("book_id"), goqu.I("b.title"), goqu.I("b.author"), goqu.COUNT(goqu.I("l.id")).As("loans")).
		GroupBy(goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author")).
		Order(goqu.I("loans").Desc(), goqu.I("b.title").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build popular books query: %w", err)
	}
	out := []BookCount{}
	err = r.db.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// Statistics aggregates circulation for loans issued between from and to,
// with current counts taken as of today. Collected fines count loans returned
// in the range.
func (r *Reports) Statistics(ctx context.Context, from, to, today Date) (*Statistics, error) {
	if err := requireCapability(ctx, CapActForOthers); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, kindf(ErrInvalid, "range end %s is before start %s", to, from)
	}
	st := &Statistics{From: from, To: to}
	span := goqu.Range(from.String(), to.String())
	inRange := goqu.I("issue_date").Between(span)

	counts := []struct {
		dest any
		ds   *goqu.SelectDataset
	}{
		{&st.LoansIssued, dialect.From("loans").Select(goqu.COUNT(goqu.Star())).Where(inRange)},
		{&st.ActiveLoans, dialect.From("loans").Select(goqu.COUNT(goqu.Star())).Where(goqu.C("return_date").IsNull())},
		{&st.OverdueLoans, dialect.From("loans").Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C("return_date").IsNull(), goqu.C("due_date").Lt(today.String()))},
		{&st.PendingReservations, dialect.From("reservations").Select(goqu.COUNT(goqu.Star())).Where(goqu.C("status").Eq(string(ReservationPending)))},
		{&st.ReadyReservations, dialect.From("reservations").Select(goqu.COUNT(goqu.Star())).Where(goqu.C("status").Eq(string(ReservationReady)))},
		{&st.OutstandingFineCents, dialect.From("loans").Select(goqu.COALESCE(goqu.SUM("fine_cents"), 0)).Where(goqu.C("return_date").IsNull())},
		{&st.CollectedFineCents, dialect.From("loans").Select(goqu.COALESCE(goqu.SUM("fine_cents"), 0)).
			Where(goqu.C("return_date").Between(span))},
	}
	for _, c := range counts {
		query, args, err := c.ds.Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build statistics query: %w", err)
		}
		if err := r.db.db.GetContext(ctx, c.dest, query, args...); err != nil {
			return nil, err
		}
	}

	query, args, err := dialect.From(goqu.T("loans").As("l")).Prepared(true).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Select(goqu.I("u.id").As("user_id"), goqu.I("u.name"), goqu.I("u.email"), goqu.COUNT(goqu.I("l.id")).As("loans")).
		Where(goqu.I("l.issue_date").Between(span)).
		GroupBy(goqu.I("u.id"), goqu.I("u.name"), goqu.I("u.email")).
		Order(goqu.I("loans").Desc(), goqu.I("u.id").Asc()).
		Limit(5).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build top borrowers query: %w", err)
	}
	st.TopBorrowers = []BorrowerCount{}
	if err := r.db.db.SelectContext(ctx, &st.TopBorrowers, query, args...); err != nil {
		return nil, err
	}
	return st, nil
}
