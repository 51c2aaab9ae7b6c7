package library

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// Capability is a set of things a role is allowed to do. Screens consult it
// to decide what to offer; the core consults it before acting.
type Capability uint16

const (
	CapBrowse Capability = 1 << iota
	CapBorrow
	CapReserve
	CapManageCatalog
	CapManageMembers
	CapRunBatches
	CapActForOthers
)

// Capabilities returns the capability set granted to r.
func (r Role) Capabilities() Capability {
	switch r {
	case RoleAdmin:
		return CapBrowse | CapBorrow | CapReserve | CapManageCatalog | CapManageMembers | CapRunBatches | CapActForOthers
	case RoleMember:
		return CapBrowse | CapBorrow | CapReserve
	}
	return 0
}

func (c Capability) Has(want Capability) bool { return c&want == want }

type actorKey struct{}

// WithActor returns a context carrying the logged-in user. Core operations
// called with a context that has no actor run as the trusted system caller
// (startup batches, seeding tools).
func WithActor(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, actorKey{}, u)
}

// ActorFrom returns the logged-in user carried by ctx, if any.
func ActorFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(actorKey{}).(*User)
	return u, ok && u != nil
}

func requireCapability(ctx context.Context, want Capability) error {
	u, ok := ActorFrom(ctx)
	if !ok {
		return nil
	}
	if !u.Role.Capabilities().Has(want) {
		return fmt.Errorf("%w: %s %q may not perform this operation", ErrAuth, u.Role, u.Email)
	}
	return nil
}

// requireSelf allows the operation when the actor holds want and either acts
// on their own behalf or may act for others.
func requireSelf(ctx context.Context, userID int64, want Capability) error {
	if err := requireCapability(ctx, want); err != nil {
		return err
	}
	u, ok := ActorFrom(ctx)
	if !ok || u.ID == userID || u.Role.Capabilities().Has(CapActForOthers) {
		return nil
	}
	return fmt.Errorf("%w: user %d may not act for user %d", ErrAuth, u.ID, userID)
}
