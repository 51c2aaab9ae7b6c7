package library

import "fmt"

// Policy holds the administrator-configured limits consulted by the lending
// ledger and the reservation queue. Components only read it.
type Policy struct {
	LoanDurationDays     int   `mapstructure:"loan_duration_days"`
	FinePerOverdueDay    int64 `mapstructure:"fine_per_overdue_day"` // cents
	MaxConcurrentLoans   int   `mapstructure:"max_concurrent_loans"`
	MaxReservations      int   `mapstructure:"max_reservations"`
	ReservationGraceDays int   `mapstructure:"reservation_grace_days"`
}

// DefaultPolicy is a two-week loan, one unit per overdue day, three loans,
// three reservations and three days to collect a held copy.
func DefaultPolicy() Policy {
	return Policy{
		LoanDurationDays:     14,
		FinePerOverdueDay:    100,
		MaxConcurrentLoans:   3,
		MaxReservations:      3,
		ReservationGraceDays: 3,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.LoanDurationDays <= 0:
		return fmt.Errorf("%w: loan duration must be positive, got %d", ErrInvalid, p.LoanDurationDays)
	case p.FinePerOverdueDay < 0:
		return fmt.Errorf("%w: fine per overdue day must not be negative, got %d", ErrInvalid, p.FinePerOverdueDay)
	case p.MaxConcurrentLoans <= 0:
		return fmt.Errorf("%w: max concurrent loans must be positive, got %d", ErrInvalid, p.MaxConcurrentLoans)
	case p.MaxReservations < 0:
		return fmt.Errorf("%w: max reservations must not be negative, got %d", ErrInvalid, p.MaxReservations)
	case p.ReservationGraceDays < 0:
		return fmt.Errorf("%w: reservation grace days must not be negative, got %d", ErrInvalid, p.ReservationGraceDays)
	}
	return nil
}

// DueDate is the due date of a loan issued on issued.
func (p Policy) DueDate(issued Date) Date { return issued.AddDays(p.LoanDurationDays) }

// OverdueDays is max(0, today - due).
func (p Policy) OverdueDays(due, today Date) int {
	if d := today.DaysSince(due); d > 0 {
		return d
	}
	return 0
}

// FineFor is the fine in cents accrued by a loan due on due, as of today.
func (p Policy) FineFor(due, today Date) int64 {
	return int64(p.OverdueDays(due, today)) * p.FinePerOverdueDay
}

// HoldExpiry is the last day a reservation promoted on ready can be collected.
func (p Policy) HoldExpiry(ready Date) Date { return ready.AddDays(p.ReservationGraceDays) }

// FormatCents renders an amount of cents as 12.34.
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
