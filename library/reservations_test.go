package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lentOut returns a single-copy book already lent to a fresh member, plus
// that loan, so the book can be reserved.
func lentOut(t *testing.T, mgr *LibraryManager, title string) (*Book, *Loan) {
	t.Helper()
	b := addBook(t, mgr, title, 1)
	holder := addMember(t, mgr, "holder"+title)
	loan, err := mgr.Ledger.IssueLoan(context.Background(), b.ID, holder.ID, day(0))
	require.NoError(t, err)
	return b, loan
}

func TestReserveRules(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()
	p.MaxReservations = 2
	mgr := newTestManagerWithPolicy(t, p)
	u := addMember(t, mgr, "alice")

	free := addBook(t, mgr, "OnShelf", 1)
	_, err := mgr.Reservations.Reserve(ctx, free.ID, u.ID, day(0))
	require.ErrorIs(t, err, ErrState)

	b1, _ := lentOut(t, mgr, "First")
	b2, _ := lentOut(t, mgr, "Second")
	b3, _ := lentOut(t, mgr, "Third")

	_, err = mgr.Reservations.Reserve(ctx, b1.ID, u.ID, day(1))
	require.NoError(t, err)
	_, err = mgr.Reservations.Reserve(ctx, b1.ID, u.ID, day(1))
	require.ErrorIs(t, err, ErrConflict)
	_, err = mgr.Reservations.Reserve(ctx, b2.ID, u.ID, day(1))
	require.NoError(t, err)
	_, err = mgr.Reservations.Reserve(ctx, b3.ID, u.ID, day(1))
	require.ErrorIs(t, err, ErrPolicy)
	_, err = mgr.Reservations.Reserve(ctx, b3.ID+100, u.ID, day(1))
	require.ErrorIs(t, err, ErrNotFound)

	held, err := mgr.Reservations.ListForUser(ctx, u.ID, true)
	require.NoError(t, err)
	assert.Len(t, held, 2)
}

func TestCannotReserveBookYouHold(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	b := addBook(t, mgr, "Mine", 1)
	u := addMember(t, mgr, "alice")
	_, err := mgr.Ledger.IssueLoan(ctx, b.ID, u.ID, day(0))
	require.NoError(t, err)

	_, err = mgr.Reservations.Reserve(ctx, b.ID, u.ID, day(1))
	require.ErrorIs(t, err, ErrConflict)
}

func TestQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	b, loan := lentOut(t, mgr, "Popular")
	r1u := addMember(t, mgr, "r1")
	r2u := addMember(t, mgr, "r2")
	r3u := addMember(t, mgr, "r3")

	// r2 and r3 reserve on the same day; id breaks the tie.
	r1, err := mgr.Reservations.Reserve(ctx, b.ID, r1u.ID, day(1))
	require.NoError(t, err)
	r2, err := mgr.Reservations.Reserve(ctx, b.ID, r2u.ID, day(2))
	require.NoError(t, err)
	r3, err := mgr.Reservations.Reserve(ctx, b.ID, r3u.ID, day(2))
	require.NoError(t, err)

	for i, u := range []*User{r1u, r2u, r3u} {
		pos, err := mgr.Reservations.QueuePosition(ctx, b.ID, u.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	_, err = mgr.Ledger.ReturnLoan(ctx, loan.ID, day(3))
	require.NoError(t, err)

	for i, want := range []*Reservation{r1, r2, r3} {
		got, err := mgr.Reservations.Get(ctx, want.ID)
		require.NoError(t, err)
		require.Equal(t, ReservationReady, got.Status, "reservation %d", i+1)
		requireConserved(t, mgr, b.ID)

		next, err := mgr.Reservations.Fulfill(ctx, got.ID, day(4+i))
		require.NoError(t, err)
		assert.Equal(t, got.UserID, next.UserID)
		_, err = mgr.Reservations.QueuePosition(ctx, b.ID, got.UserID)
		require.ErrorIs(t, err, ErrNotFound)

		_, err = mgr.Ledger.ReturnLoan(ctx, next.ID, day(5+i))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, getBook(t, mgr, b.ID).AvailableCopies)
}

func TestNewStockPromotesQueue(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	b, _ := lentOut(t, mgr, "Restocked")
	u := addMember(t, mgr, "alice")
	walkIn := addMember(t, mgr, "walkin")
	res, err := mgr.Reservations.Reserve(ctx, b.ID, u.ID, day(1))
	require.NoError(t, err)

	promoted, err := mgr.Reservations.OnCopyFreed(ctx, b.ID, day(2))
	require.NoError(t, err)
	assert.Nil(t, promoted)

	b.TotalCopies = 2
	updated, held, err := mgr.Catalog.Update(ctx, *b, day(2))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, res.ID, held[0].ID)
	assert.Equal(t, day(5), held[0].ExpiresDate)
	assert.Equal(t, 0, updated.AvailableCopies)
	assert.Equal(t, 0, getBook(t, mgr, b.ID).AvailableCopies)
	requireConserved(t, mgr, b.ID)

	// The new copy is spoken for; nobody outside the queue can take it.
	_, err = mgr.Ledger.IssueLoan(ctx, b.ID, walkIn.ID, day(2))
	require.ErrorIs(t, err, ErrState)
	got, err := mgr.Reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationReady, got.Status)

	promoted, err = mgr.Reservations.OnCopyFreed(ctx, b.ID, day(2))
	require.NoError(t, err)
	assert.Nil(t, promoted)

	// Copies beyond the queue go to the shelf.
	b = getBook(t, mgr, b.ID)
	b.TotalCopies = 4
	updated, held, err = mgr.Catalog.Update(ctx, *b, day(3))
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.Equal(t, 2, updated.AvailableCopies)
	_, err = mgr.Ledger.IssueLoan(ctx, b.ID, walkIn.ID, day(3))
	require.NoError(t, err)
	requireConserved(t, mgr, b.ID)
}

func TestExpiredHoldPassesDownQueue(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	b, loan := lentOut(t, mgr, "Hold")
	slow := addMember(t, mgr, "slow")
	next := addMember(t, mgr, "next")

	r1, err := mgr.Reservations.Reserve(ctx, b.ID, slow.ID, day(1))
	require.NoError(t, err)
	r2, err := mgr.Reservations.Reserve(ctx, b.ID, next.ID, day(2))
	require.NoError(t, err)
	_, err = mgr.Ledger.ReturnLoan(ctx, loan.ID, day(10))
	require.NoError(t, err)

	// Grace runs through day 13 inclusive.
	expired, err := mgr.Reservations.ExpireStaleReservations(ctx, day(13))
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = mgr.Reservations.ExpireStaleReservations(ctx, day(14))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, r1.ID, expired[0].ID)
	assert.Equal(t, ReservationCancelled, expired[0].Status)

	_, err = mgr.Reservations.Fulfill(ctx, r1.ID, day(14))
	require.ErrorIs(t, err, ErrState)

	r2, err = mgr.Reservations.Get(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationReady, r2.Status)
	assert.Equal(t, day(17), r2.ExpiresDate)
	requireConserved(t, mgr, b.ID)

	notes, err := mgr.Notifications.List(ctx, slow.ID, false)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0].Message, "expired")

	// Nobody left in line: the copy goes back on the shelf.
	_, err = mgr.Reservations.ExpireStaleReservations(ctx, day(18))
	require.NoError(t, err)
	assert.Equal(t, 1, getBook(t, mgr, b.ID).AvailableCopies)
	requireConserved(t, mgr, b.ID)
}

func TestFulfill(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	b, loan := lentOut(t, mgr, "Collect")
	u := addMember(t, mgr, "alice")
	res, err := mgr.Reservations.Reserve(ctx, b.ID, u.ID, day(1))
	require.NoError(t, err)

	_, err = mgr.Reservations.Fulfill(ctx, res.ID, day(1))
	require.ErrorIs(t, err, ErrState)

	_, err = mgr.Ledger.ReturnLoan(ctx, loan.ID, day(5))
	require.NoError(t, err)

	_, err = mgr.Reservations.Fulfill(ctx, res.ID, day(9))
	require.ErrorIs(t, err, ErrState)

	got, err := mgr.Reservations.Fulfill(WithActor(ctx, u), res.ID, day(8))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, day(22), got.DueDate)
	assert.Equal(t, 0, getBook(t, mgr, b.ID).AvailableCopies)
	requireConserved(t, mgr, b.ID)

	res, err = mgr.Reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationFulfilled, res.Status)
	_, err = mgr.Reservations.Fulfill(ctx, res.ID, day(8))
	require.ErrorIs(t, err, ErrState)
}

func TestFulfillAtLoanCapKeepsHold(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()
	p.MaxConcurrentLoans = 1
	mgr := newTestManagerWithPolicy(t, p)
	b, loan := lentOut(t, mgr, "Wanted")
	u := addMember(t, mgr, "alice")
	res, err := mgr.Reservations.Reserve(ctx, b.ID, u.ID, day(1))
	require.NoError(t, err)
	_, err = mgr.Ledger.IssueLoan(ctx, addBook(t, mgr, "Other", 1).ID, u.ID, day(1))
	require.NoError(t, err)
	_, err = mgr.Ledger.ReturnLoan(ctx, loan.ID, day(2))
	require.NoError(t, err)

	_, err = mgr.Reservations.Fulfill(ctx, res.ID, day(3))
	require.ErrorIs(t, err, ErrPolicy)

	res, err = mgr.Reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationReady, res.Status)
	assert.Equal(t, 0, getBook(t, mgr, b.ID).AvailableCopies)
	requireConserved(t, mgr, b.ID)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	b, loan := lentOut(t, mgr, "Cancelled")
	a := addMember(t, mgr, "alice")
	c := addMember(t, mgr, "carol")
	v := addMember(t, mgr, "victor")

	ra, err := mgr.Reservations.Reserve(ctx, b.ID, a.ID, day(1))
	require.NoError(t, err)
	rc, err := mgr.Reservations.Reserve(ctx, b.ID, c.ID, day(2))
	require.NoError(t, err)
	_, err = mgr.Ledger.ReturnLoan(ctx, loan.ID, day(3))
	require.NoError(t, err)

	_, err = mgr.Reservations.Cancel(WithActor(ctx, v), ra.ID, day(4))
	require.ErrorIs(t, err, ErrAuth)

	cancelled, err := mgr.Reservations.Cancel(WithActor(ctx, a), ra.ID, day(4))
	require.NoError(t, err)
	assert.Equal(t, ReservationCancelled, cancelled.Status)
	_, err = mgr.Reservations.Cancel(ctx, ra.ID, day(4))
	require.ErrorIs(t, err, ErrState)

	rc, err = mgr.Reservations.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationReady, rc.Status)
	assert.Equal(t, day(4), rc.ReadyDate)
	requireConserved(t, mgr, b.ID)

	_, err = mgr.Reservations.Cancel(ctx, rc.ID, day(5))
	require.NoError(t, err)
	assert.Equal(t, 1, getBook(t, mgr, b.ID).AvailableCopies)
	requireConserved(t, mgr, b.ID)

	_, err = mgr.Reservations.Cancel(ctx, rc.ID+100, day(5))
	require.ErrorIs(t, err, ErrNotFound)
}
