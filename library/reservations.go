package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const reservationColumns = `id, book_id, user_id, reservation_date, status, ready_date, expires_date`

// queueOrder is the FIFO order of a book's queue: reservation date, then id.
const queueOrder = ` ORDER BY reservation_date, id`

// ReservationQueue owns one FIFO queue of reservations per book. A ready
// reservation holds a copy for its member: the copy stays out of
// AvailableCopies until it is collected, the reservation is cancelled, or the
// grace period runs out.
type ReservationQueue struct {
	db      *Database
	policy  Policy
	catalog *Catalog
	members *Membership
	notices *Notifier
	ledger  *Ledger
	log     *slog.Logger
}

// Reserve queues userID for bookID. Reservations only apply to books with no
// free copy; otherwise the caller should issue a loan.
func (r *ReservationQueue) Reserve(ctx context.Context, bookID, userID int64, today Date) (*Reservation, error) {
	if err := requireSelf(ctx, userID, CapReserve); err != nil {
		return nil, err
	}
	res := &Reservation{BookID: bookID, UserID: userID, ReservationDate: today, Status: ReservationPending}
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		book, err := r.catalog.getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if _, err := r.members.getActiveUser(ctx, tx, userID); err != nil {
			return err
		}
		if book.IsAvailable() {
			return kindf(ErrState, "%q has %d copies available; borrow it instead", book.Title, book.AvailableCopies)
		}

		var dup int
		if err := tx.GetContext(ctx, &dup,
			`SELECT COUNT(*) FROM reservations WHERE book_id=? AND user_id=? AND status IN ('pending','ready')`,
			bookID, userID); err != nil {
			return err
		}
		if dup > 0 {
			return kindf(ErrConflict, "user %d already has a reservation for %q", userID, book.Title)
		}
		if err := tx.GetContext(ctx, &dup,
			`SELECT COUNT(*) FROM loans WHERE book_id=? AND user_id=? AND return_date IS NULL`, bookID, userID); err != nil {
			return err
		}
		if dup > 0 {
			return kindf(ErrConflict, "user %d is currently borrowing %q", userID, book.Title)
		}

		active, err := countActiveReservations(ctx, tx, userID)
		if err != nil {
			return err
		}
		if active >= r.policy.MaxReservations {
			return kindf(ErrPolicy, "user %d already has %d of %d allowed reservations", userID, active, r.policy.MaxReservations)
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO reservations(book_id,user_id,reservation_date,status) VALUES(?,?,?,'pending')`,
			bookID, userID, today)
		if err != nil {
			return err
		}
		res.ID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("reservation created", "reservation_id", res.ID, "book_id", bookID, "user_id", userID)
	return res, nil
}

// Cancel withdraws a pending or ready reservation. Cancelling a ready one
// releases its copy to the next member in the queue.
func (r *ReservationQueue) Cancel(ctx context.Context, reservationID int64, today Date) (*Reservation, error) {
	var (
		res      *Reservation
		promoted *Reservation
	)
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		res, err = r.getReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if err := requireSelf(ctx, res.UserID, CapReserve); err != nil {
			return err
		}
		if !res.Status.Active() {
			return kindf(ErrState, "reservation %d is %s", reservationID, res.Status)
		}
		wasReady := res.Status == ReservationReady
		if err := r.setStatus(ctx, tx, res, ReservationCancelled); err != nil {
			return err
		}
		if !wasReady {
			return nil
		}
		promoted, err = r.releaseHold(ctx, tx, res.BookID, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("reservation cancelled", "reservation_id", res.ID, "book_id", res.BookID, "user_id", res.UserID)
	r.logPromotion(promoted)
	return res, nil
}

// OnCopyFreed promotes the head of bookID's pending queue to ready, holding a
// free copy for it. It returns nil when the queue is empty or no copy is on
// the shelf. Every path that frees a copy already promotes inside its own
// transaction; this entry point re-runs the hand-off for one book.
func (r *ReservationQueue) OnCopyFreed(ctx context.Context, bookID int64, today Date) (*Reservation, error) {
	if err := requireCapability(ctx, CapRunBatches); err != nil {
		return nil, err
	}
	var promoted *Reservation
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		book, err := r.catalog.getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !book.IsAvailable() {
			return nil
		}
		promoted, err = r.onCopyFreed(ctx, tx, bookID, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logPromotion(promoted)
	return promoted, nil
}

// ExpireStaleReservations cancels every ready reservation whose grace period
// ended before today and passes each released copy down the queue. It returns
// the expired reservations.
func (r *ReservationQueue) ExpireStaleReservations(ctx context.Context, today Date) ([]Reservation, error) {
	if err := requireCapability(ctx, CapRunBatches); err != nil {
		return nil, err
	}
	var (
		expired  []Reservation
		promoted []*Reservation
	)
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		expired, promoted = nil, nil
		var stale []Reservation
		if err := tx.SelectContext(ctx, &stale,
			`SELECT `+reservationColumns+` FROM reservations WHERE status='ready' AND expires_date < ? ORDER BY expires_date, id`,
			today); err != nil {
			return err
		}

		for _, res := range stale {
			if err := r.setStatus(ctx, tx, &res, ReservationCancelled); err != nil {
				return err
			}
			title, err := bookTitle(ctx, tx, res.BookID)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Your hold on %q expired on %s and has been released.", title, res.ExpiresDate)
			if _, err := r.notices.emit(ctx, tx, res.UserID, NoticeReservation, msg); err != nil {
				return err
			}
			next, err := r.releaseHold(ctx, tx, res.BookID, today)
			if err != nil {
				return err
			}
			expired = append(expired, res)
			promoted = append(promoted, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, res := range expired {
		r.log.Info("reservation expired", "reservation_id", res.ID, "book_id", res.BookID, "user_id", res.UserID)
		r.logPromotion(promoted[i])
	}
	return expired, nil
}

// Fulfill turns a ready reservation into a loan for its member. The hold is
// released and the loan issued in one transaction, so a failed issue (for
// example the member is at the loan cap) leaves the hold in place.
func (r *ReservationQueue) Fulfill(ctx context.Context, reservationID int64, today Date) (*Loan, error) {
	var (
		res  *Reservation
		loan *Loan
	)
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		res, err = r.getReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if err := requireSelf(ctx, res.UserID, CapBorrow); err != nil {
			return err
		}
		if res.Status != ReservationReady {
			return kindf(ErrState, "reservation %d is %s, not ready", reservationID, res.Status)
		}
		if today.After(res.ExpiresDate) {
			return kindf(ErrState, "reservation %d expired on %s", reservationID, res.ExpiresDate)
		}

		if err := r.catalog.incrementAvailable(ctx, tx, res.BookID); err != nil {
			return err
		}
		if loan, err = r.ledger.issue(ctx, tx, res.BookID, res.UserID, today); err != nil {
			return err
		}
		return r.setStatus(ctx, tx, res, ReservationFulfilled)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("reservation fulfilled", "reservation_id", res.ID, "loan_id", loan.ID, "book_id", res.BookID, "user_id", res.UserID)
	return loan, nil
}

func (r *ReservationQueue) Get(ctx context.Context, reservationID int64) (*Reservation, error) {
	res, err := r.getReservation(ctx, r.db.db, reservationID)
	if err != nil {
		return nil, err
	}
	if err := requireSelf(ctx, res.UserID, CapBrowse); err != nil {
		return nil, err
	}
	return res, nil
}

// ListForUser returns a member's reservations, most recent first.
func (r *ReservationQueue) ListForUser(ctx context.Context, userID int64, activeOnly bool) ([]Reservation, error) {
	if err := requireSelf(ctx, userID, CapBrowse); err != nil {
		return nil, err
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id=?`
	if activeOnly {
		query += ` AND status IN ('pending','ready')`
	}
	out := []Reservation{}
	err := r.db.db.SelectContext(ctx, &out, query+` ORDER BY reservation_date DESC, id DESC`, userID)
	return out, err
}

// QueuePosition is the 1-based position of userID's pending reservation in
// bookID's queue.
func (r *ReservationQueue) QueuePosition(ctx context.Context, bookID, userID int64) (int, error) {
	if err := requireSelf(ctx, userID, CapBrowse); err != nil {
		return 0, err
	}
	var pending []Reservation
	if err := r.db.db.SelectContext(ctx, &pending,
		`SELECT `+reservationColumns+` FROM reservations WHERE book_id=? AND status='pending'`+queueOrder, bookID); err != nil {
		return 0, err
	}
	for i, res := range pending {
		if res.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, kindf(ErrNotFound, "no pending reservation for user %d on book %d", userID, bookID)
}

// onCopyFreed must run in the transaction that freed the copy.
func (r *ReservationQueue) onCopyFreed(ctx context.Context, tx *sqlx.Tx, bookID int64, today Date) (*Reservation, error) {
	var head Reservation
	err := tx.GetContext(ctx, &head,
		`SELECT `+reservationColumns+` FROM reservations WHERE book_id=? AND status='pending'`+queueOrder+` LIMIT 1`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.catalog.decrementAvailable(ctx, tx, bookID); err != nil {
		return nil, err
	}
	head.Status = ReservationReady
	head.ReadyDate = today
	head.ExpiresDate = r.policy.HoldExpiry(today)
	if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status='ready', ready_date=?, expires_date=? WHERE id=?`,
		head.ReadyDate, head.ExpiresDate, head.ID); err != nil {
		return nil, err
	}

	title, err := bookTitle(ctx, tx, bookID)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("%q is being held for you. Collect it by %s.", title, head.ExpiresDate)
	if _, err := r.notices.emit(ctx, tx, head.UserID, NoticeReservation, msg); err != nil {
		return nil, err
	}
	return &head, nil
}

// releaseHold puts a held copy back and offers it to the next in line.
func (r *ReservationQueue) releaseHold(ctx context.Context, tx *sqlx.Tx, bookID int64, today Date) (*Reservation, error) {
	if err := r.catalog.incrementAvailable(ctx, tx, bookID); err != nil {
		return nil, err
	}
	return r.onCopyFreed(ctx, tx, bookID, today)
}

func (r *ReservationQueue) setStatus(ctx context.Context, tx *sqlx.Tx, res *Reservation, status ReservationStatus) error {
	if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status=? WHERE id=?`, status, res.ID); err != nil {
		return err
	}
	res.Status = status
	return nil
}

func (r *ReservationQueue) getReservation(ctx context.Context, q sqlx.QueryerContext, reservationID int64) (*Reservation, error) {
	var res Reservation
	err := sqlx.GetContext(ctx, q, &res, `SELECT `+reservationColumns+` FROM reservations WHERE id=?`, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kindf(ErrNotFound, "reservation %d", reservationID)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ReservationQueue) logPromotion(res *Reservation) {
	if res == nil {
		return
	}
	r.log.Info("reservation ready", "reservation_id", res.ID, "book_id", res.BookID, "user_id", res.UserID,
		"expires", res.ExpiresDate.String())
}
