package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const loanColumns = `id, book_id, user_id, issue_date, due_date, return_date, fine_cents, overdue_notified`

// Ledger owns Loan records and applies the issue, return and overdue
// transitions. A loan is Active until returned; overdue is derived from the
// due date, never stored as a separate state.
type Ledger struct {
	db      *Database
	policy  Policy
	catalog *Catalog
	members *Membership
	notices *Notifier
	queue   *ReservationQueue
	log     *slog.Logger
}

// IssueLoan lends a copy of bookID to userID, due LoanDurationDays after
// today. The loan row and the availability decrement commit together.
func (l *Ledger) IssueLoan(ctx context.Context, bookID, userID int64, today Date) (*Loan, error) {
	if err := requireSelf(ctx, userID, CapBorrow); err != nil {
		return nil, err
	}
	var loan *Loan
	err := l.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		loan, err = l.issue(ctx, tx, bookID, userID, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("loan issued", "loan_id", loan.ID, "book_id", bookID, "user_id", userID, "due", loan.DueDate.String())
	return loan, nil
}

// ReturnLoan closes an outstanding loan, finalizes its fine and hands the
// freed copy to the next reservation in the book's queue, if any.
func (l *Ledger) ReturnLoan(ctx context.Context, loanID int64, today Date) (*Loan, error) {
	var (
		loan     *Loan
		promoted *Reservation
	)
	err := l.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		loan, err = l.getLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if err := requireSelf(ctx, loan.UserID, CapBorrow); err != nil {
			return err
		}
		if !loan.Outstanding() {
			return kindf(ErrState, "loan %d was already returned on %s", loanID, loan.ReturnDate)
		}
		if today.Before(loan.IssueDate) {
			return kindf(ErrInvalid, "return date %s is before issue date %s", today, loan.IssueDate)
		}
		book, err := bookTitle(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}

		loan.ReturnDate = today
		loan.FineCents = max(loan.FineCents, l.policy.FineFor(loan.DueDate, today))
		if _, err := tx.ExecContext(ctx, `UPDATE loans SET return_date=?, fine_cents=? WHERE id=?`,
			loan.ReturnDate, loan.FineCents, loan.ID); err != nil {
			return err
		}
		if err := l.catalog.incrementAvailable(ctx, tx, loan.BookID); err != nil {
			return err
		}

		msg := fmt.Sprintf("You returned %q on %s.", book, today)
		if loan.FineCents > 0 {
			msg += fmt.Sprintf(" It was %d days overdue; fine due: %s.",
				l.policy.OverdueDays(loan.DueDate, today), FormatCents(loan.FineCents))
		}
		if _, err := l.notices.emit(ctx, tx, loan.UserID, NoticeInfo, msg); err != nil {
			return err
		}

		promoted, err = l.queue.onCopyFreed(ctx, tx, loan.BookID, today)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("loan returned", "loan_id", loan.ID, "book_id", loan.BookID, "user_id", loan.UserID, "fine_cents", loan.FineCents)
	if promoted != nil {
		l.log.Info("reservation ready", "reservation_id", promoted.ID, "book_id", promoted.BookID, "user_id", promoted.UserID)
	}
	return loan, nil
}

// RecomputeOverdueFines brings the fine of every outstanding overdue loan up
// to date and notifies borrowers whose loan has just become overdue. Fines
// never decrease. It returns the loans it touched.
func (l *Ledger) RecomputeOverdueFines(ctx context.Context, today Date) ([]Loan, error) {
	if err := requireCapability(ctx, CapRunBatches); err != nil {
		return nil, err
	}
	var updated []Loan
	notified := 0
	err := l.db.withTx(ctx, func(tx *sqlx.Tx) error {
		updated = nil
		notified = 0
		var overdue []Loan
		if err := tx.SelectContext(ctx, &overdue,
			`SELECT `+loanColumns+` FROM loans WHERE return_date IS NULL AND due_date < ? ORDER BY due_date, id`, today); err != nil {
			return err
		}

		for _, loan := range overdue {
			loan.FineCents = max(loan.FineCents, l.policy.FineFor(loan.DueDate, today))
			if _, err := tx.ExecContext(ctx, `UPDATE loans SET fine_cents=?, overdue_notified=1 WHERE id=?`,
				loan.FineCents, loan.ID); err != nil {
				return err
			}

			if !loan.OverdueNotified {
				book, err := bookTitle(ctx, tx, loan.BookID)
				if err != nil {
					return err
				}
				msg := fmt.Sprintf("%q was due on %s and is now overdue. Fine so far: %s.",
					book, loan.DueDate, FormatCents(loan.FineCents))
				if _, err := l.notices.emit(ctx, tx, loan.UserID, NoticeOverdue, msg); err != nil {
					return err
				}
				loan.OverdueNotified = true
				notified++
			}
			updated = append(updated, loan)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("overdue fines recomputed", "today", today.String(), "loans", len(updated), "newly_overdue", notified)
	return updated, nil
}

func (l *Ledger) Get(ctx context.Context, loanID int64) (*Loan, error) {
	loan, err := l.getLoan(ctx, l.db.db, loanID)
	if err != nil {
		return nil, err
	}
	if err := requireSelf(ctx, loan.UserID, CapBrowse); err != nil {
		return nil, err
	}
	return loan, nil
}

// issue applies the issue transition inside tx. Fulfilling a reservation
// reuses it after releasing the held copy.
func (l *Ledger) issue(ctx context.Context, tx *sqlx.Tx, bookID, userID int64, today Date) (*Loan, error) {
	book, err := l.catalog.getBook(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	if _, err := l.members.getActiveUser(ctx, tx, userID); err != nil {
		return nil, err
	}
	if !book.IsAvailable() {
		return nil, kindf(ErrState, "no copies of %q are available", book.Title)
	}

	var held int
	if err := tx.GetContext(ctx, &held,
		`SELECT COUNT(*) FROM loans WHERE book_id=? AND user_id=? AND return_date IS NULL`, bookID, userID); err != nil {
		return nil, err
	}
	if held > 0 {
		return nil, kindf(ErrConflict, "user %d already has a copy of %q", userID, book.Title)
	}

	count, err := countOutstandingLoans(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if count >= l.policy.MaxConcurrentLoans {
		return nil, kindf(ErrPolicy, "user %d already has %d of %d allowed loans", userID, count, l.policy.MaxConcurrentLoans)
	}

	loan := &Loan{
		BookID:    bookID,
		UserID:    userID,
		IssueDate: today,
		DueDate:   l.policy.DueDate(today),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO loans(book_id,user_id,issue_date,due_date,fine_cents) VALUES(?,?,?,?,0)`,
		loan.BookID, loan.UserID, loan.IssueDate, loan.DueDate)
	if err != nil {
		return nil, err
	}
	if loan.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	if err := l.catalog.decrementAvailable(ctx, tx, bookID); err != nil {
		return nil, err
	}
	return loan, nil
}

func (l *Ledger) getLoan(ctx context.Context, q sqlx.QueryerContext, loanID int64) (*Loan, error) {
	var loan Loan
	err := sqlx.GetContext(ctx, q, &loan, `SELECT `+loanColumns+` FROM loans WHERE id=?`, loanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kindf(ErrNotFound, "loan %d", loanID)
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}
