package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := map[string]func(p *Policy){
		"zero loan duration":    func(p *Policy) { p.LoanDurationDays = 0 },
		"negative fine":         func(p *Policy) { p.FinePerOverdueDay = -1 },
		"zero loan cap":         func(p *Policy) { p.MaxConcurrentLoans = 0 },
		"negative reservations": func(p *Policy) { p.MaxReservations = -1 },
		"negative grace period": func(p *Policy) { p.ReservationGraceDays = -2 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := DefaultPolicy()
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalid)
		})
	}
}

func TestPolicyFines(t *testing.T) {
	p := DefaultPolicy()
	due := p.DueDate(day(0))
	assert.Equal(t, day(14), due)

	assert.Zero(t, p.FineFor(due, day(3)))
	assert.Zero(t, p.FineFor(due, due))
	assert.Equal(t, int64(100), p.FineFor(due, due.AddDays(1)))
	assert.Equal(t, int64(600), p.FineFor(due, day(20)))
	assert.Equal(t, 6, p.OverdueDays(due, day(20)))
	assert.Zero(t, p.OverdueDays(due, day(1)))

	p.FinePerOverdueDay = 0
	assert.Zero(t, p.FineFor(due, day(100)))
}

func TestHoldExpiry(t *testing.T) {
	assert.Equal(t, day(23), DefaultPolicy().HoldExpiry(day(20)))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, "6.00", FormatCents(600))
	assert.Equal(t, "12.05", FormatCents(1205))
	assert.Equal(t, "-0.50", FormatCents(-50))
}
