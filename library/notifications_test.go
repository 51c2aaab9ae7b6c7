package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	a := addMember(t, mgr, "alice")
	v := addMember(t, mgr, "victor")

	first, err := mgr.Notifications.Emit(ctx, a.ID, NoticeInfo, "Welcome to the library.")
	require.NoError(t, err)
	assert.Equal(t, NotificationUnread, first.Status)
	second, err := mgr.Notifications.Emit(ctx, a.ID, NoticeInfo, "Opening hours have changed.")
	require.NoError(t, err)

	_, err = mgr.Notifications.Emit(ctx, a.ID, NoticeInfo, "   ")
	require.ErrorIs(t, err, ErrInvalid)
	_, err = mgr.Notifications.Emit(WithActor(ctx, a), v.ID, NoticeInfo, "spam")
	require.ErrorIs(t, err, ErrAuth)

	notes, err := mgr.Notifications.List(ctx, a.ID, false)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, second.ID, notes[0].ID)

	require.ErrorIs(t, mgr.Notifications.MarkRead(WithActor(ctx, v), first.ID), ErrAuth)
	require.NoError(t, mgr.Notifications.MarkRead(WithActor(ctx, a), first.ID))
	require.ErrorIs(t, mgr.Notifications.MarkRead(ctx, first.ID), ErrState)
	require.ErrorIs(t, mgr.Notifications.MarkRead(ctx, second.ID+100), ErrNotFound)

	unread, err := mgr.Notifications.List(ctx, a.ID, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	n, err := mgr.Notifications.UnreadCount(WithActor(ctx, a), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = mgr.Notifications.UnreadCount(WithActor(ctx, v), a.ID)
	require.ErrorIs(t, err, ErrAuth)
}

func TestFailedTransitionEmitsNothing(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()
	p.MaxConcurrentLoans = 1
	mgr := newTestManagerWithPolicy(t, p)
	b, loan := lentOut(t, mgr, "Atomic")
	u := addMember(t, mgr, "alice")
	res, err := mgr.Reservations.Reserve(ctx, b.ID, u.ID, day(1))
	require.NoError(t, err)
	_, err = mgr.Ledger.IssueLoan(ctx, addBook(t, mgr, "Busy", 1).ID, u.ID, day(1))
	require.NoError(t, err)
	_, err = mgr.Ledger.ReturnLoan(ctx, loan.ID, day(2))
	require.NoError(t, err)

	before, err := mgr.Notifications.List(ctx, u.ID, false)
	require.NoError(t, err)
	_, err = mgr.Reservations.Fulfill(ctx, res.ID, day(3))
	require.ErrorIs(t, err, ErrPolicy)
	after, err := mgr.Notifications.List(ctx, u.ID, false)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
