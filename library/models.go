package library

// Book represents a catalog title and how many of its copies are on the shelf.
// AvailableCopies never leaves [0, TotalCopies].
type Book struct {
	ID              int64  `db:"id" json:"id"`
	Title           string `db:"title" json:"title"`
	Author          string `db:"author" json:"author"`
	Category        string `db:"category" json:"category"`
	ISBN            string `db:"isbn" json:"isbn"`
	TotalCopies     int    `db:"total_copies" json:"total_copies"`
	AvailableCopies int    `db:"available_copies" json:"available_copies"`
	Withdrawn       bool   `db:"withdrawn" json:"-"`
}

// IsAvailable reports whether a copy can be issued right now.
func (b *Book) IsAvailable() bool { return b.AvailableCopies > 0 }

// User is a registered admin or member.
type User struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Email        string `db:"email" json:"email"`
	Role         Role   `db:"role" json:"role"`
	PasswordHash string `db:"password_hash" json:"-"` // Don't serialize password hash
	Active       bool   `db:"active" json:"active"`
}

// Loan is the durable record of one borrowing. A zero ReturnDate means the
// loan is outstanding.
type Loan struct {
	ID              int64 `db:"id" json:"id"`
	BookID          int64 `db:"book_id" json:"book_id"`
	UserID          int64 `db:"user_id" json:"user_id"`
	IssueDate       Date  `db:"issue_date" json:"issue_date"`
	DueDate         Date  `db:"due_date" json:"due_date"`
	ReturnDate      Date  `db:"return_date" json:"return_date"`
	FineCents       int64 `db:"fine_cents" json:"fine_cents"`
	OverdueNotified bool  `db:"overdue_notified" json:"-"`
}

func (l *Loan) Outstanding() bool { return l.ReturnDate.IsZero() }

// OverdueOn reports whether the loan is outstanding and past due on today.
func (l *Loan) OverdueOn(today Date) bool {
	return l.Outstanding() && today.After(l.DueDate)
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationReady     ReservationStatus = "ready"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Active reports whether the reservation still counts against the member's
// reservation cap.
func (s ReservationStatus) Active() bool {
	return s == ReservationPending || s == ReservationReady
}

// Reservation is one member's place in a book's queue. ReadyDate and
// ExpiresDate are set once the reservation is promoted and holds a copy.
type Reservation struct {
	ID              int64             `db:"id" json:"id"`
	BookID          int64             `db:"book_id" json:"book_id"`
	UserID          int64             `db:"user_id" json:"user_id"`
	ReservationDate Date              `db:"reservation_date" json:"reservation_date"`
	Status          ReservationStatus `db:"status" json:"status"`
	ReadyDate       Date              `db:"ready_date" json:"ready_date"`
	ExpiresDate     Date              `db:"expires_date" json:"expires_date"`
}

type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

type NotificationKind string

const (
	NoticeInfo        NotificationKind = "info"
	NoticeOverdue     NotificationKind = "overdue"
	NoticeReservation NotificationKind = "reservation"
)

// Notification is a user-visible message. Display is up to the caller.
type Notification struct {
	ID      int64              `db:"id" json:"id"`
	UserID  int64              `db:"user_id" json:"user_id"`
	Kind    NotificationKind   `db:"kind" json:"kind"`
	Message string             `db:"message" json:"message"`
	Status  NotificationStatus `db:"status" json:"status"`
}
