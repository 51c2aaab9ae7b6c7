package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
)

const notificationColumns = `id, user_id, kind, message, status`

// Notifier records user-visible messages emitted by the ledger and the
// reservation queue. Notifications only move from unread to read.
type Notifier struct {
	db *Database
}

// Emit appends an unread notification for userID.
func (n *Notifier) Emit(ctx context.Context, userID int64, kind NotificationKind, message string) (*Notification, error) {
	if err := requireCapability(ctx, CapActForOthers); err != nil {
		return nil, err
	}
	var out *Notification
	err := n.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		out, err = n.emit(ctx, tx, userID, kind, message)
		return err
	})
	return out, err
}

// MarkRead marks a notification as read.
func (n *Notifier) MarkRead(ctx context.Context, notificationID int64) error {
	return n.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var note Notification
		err := tx.GetContext(ctx, &note, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, notificationID)
		if errors.Is(err, sql.ErrNoRows) {
			return kindf(ErrNotFound, "notification %d", notificationID)
		}
		if err != nil {
			return err
		}
		if err := requireSelf(ctx, note.UserID, CapBrowse); err != nil {
			return err
		}
		if note.Status != NotificationUnread {
			return kindf(ErrState, "notification %d is already read", notificationID)
		}
		_, err = tx.ExecContext(ctx, `UPDATE notifications SET status='read' WHERE id=?`, notificationID)
		return err
	})
}

// List returns a user's notifications, newest first.
func (n *Notifier) List(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error) {
	if err := requireSelf(ctx, userID, CapBrowse); err != nil {
		return nil, err
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND status='unread'`
	}
	notes := []Notification{}
	err := n.db.db.SelectContext(ctx, &notes, query+` ORDER BY id DESC`, userID)
	return notes, err
}

func (n *Notifier) UnreadCount(ctx context.Context, userID int64) (int, error) {
	if err := requireSelf(ctx, userID, CapBrowse); err != nil {
		return 0, err
	}
	var count int
	err := n.db.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id=? AND status='unread'`, userID)
	return count, err
}

// emit writes inside the caller's transaction so the message commits or rolls
// back together with the state change it reports.
func (n *Notifier) emit(ctx context.Context, tx sqlx.ExtContext, userID int64, kind NotificationKind, message string) (*Notification, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, kindf(ErrInvalid, "notification message is empty")
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO notifications(user_id,kind,message,status) VALUES(?,?,?,'unread')`, userID, kind, message)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Notification{ID: id, UserID: userID, Kind: kind, Message: message, Status: NotificationUnread}, nil
}
