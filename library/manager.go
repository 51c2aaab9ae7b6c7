package library

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// LibraryManager wires the components over one Database, keeping CLI code
// simple.
type LibraryManager struct {
	db     *Database
	policy Policy
	log    *slog.Logger

	Catalog       *Catalog
	Members       *Membership
	Credentials   *Credentials
	Ledger        *Ledger
	Reservations  *ReservationQueue
	Notifications *Notifier
	Reports       *Reports
}

// Options tunes NewLibraryManager. The zero value is usable.
type Options struct {
	Logger     *slog.Logger
	BcryptCost int // 0 means bcrypt.DefaultCost
}

// RefreshResult reports what a Refresh run changed.
type RefreshResult struct {
	FinesUpdated        []Loan
	ReservationsExpired []Reservation
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, policy Policy, opts Options) (*LibraryManager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return newManager(db, policy, opts), nil
}

func newManager(db *Database, policy Policy, opts Options) *LibraryManager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	lm := &LibraryManager{db: db, policy: policy, log: log}
	lm.Notifications = &Notifier{db: db}
	lm.Reports = &Reports{db: db}
	lm.Catalog = &Catalog{db: db, log: log.With("component", "catalog")}
	lm.Credentials = &Credentials{db: db, cost: cost, log: log.With("component", "credentials")}
	lm.Members = &Membership{db: db, creds: lm.Credentials, log: log.With("component", "membership")}
	lm.Ledger = &Ledger{
		db:      db,
		policy:  policy,
		catalog: lm.Catalog,
		members: lm.Members,
		notices: lm.Notifications,
		log:     log.With("component", "ledger"),
	}
	lm.Reservations = &ReservationQueue{
		db:      db,
		policy:  policy,
		catalog: lm.Catalog,
		members: lm.Members,
		notices: lm.Notifications,
		ledger:  lm.Ledger,
		log:     log.With("component", "reservations"),
	}
	lm.Ledger.queue = lm.Reservations
	lm.Catalog.queue = lm.Reservations
	return lm
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Policy returns the limits in force.
func (lm *LibraryManager) Policy() Policy { return lm.policy }

// Ping reports whether the store is reachable.
func (lm *LibraryManager) Ping(ctx context.Context) error { return lm.db.Ping(ctx) }

// Refresh runs the on-demand batches in order: overdue fines first, then hold
// expiry. Callers run it at startup and on a manual refresh.
func (lm *LibraryManager) Refresh(ctx context.Context, today Date) (*RefreshResult, error) {
	fines, err := lm.Ledger.RecomputeOverdueFines(ctx, today)
	if err != nil {
		return nil, err
	}
	expired, err := lm.Reservations.ExpireStaleReservations(ctx, today)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{FinesUpdated: fines, ReservationsExpired: expired}, nil
}

// Login authenticates and returns a context acting as the user.
func (lm *LibraryManager) Login(ctx context.Context, email, password string) (context.Context, *User, error) {
	u, err := lm.Credentials.Authenticate(ctx, email, password)
	if err != nil {
		return ctx, nil, err
	}
	return WithActor(ctx, u), u, nil
}
