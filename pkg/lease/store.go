package lease

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrDuplicate is returned when adding a lease for an address that is
	// already leased.
	ErrDuplicate = errors.New("address already leased")

	// ErrNotFound is returned when updating a lease that does not exist.
	ErrNotFound = errors.New("lease not found")
)

// Store is the lease persistence interface. Implementations must be safe
// for concurrent use and linearizable per key; lookups that find nothing
// return (nil, nil).
//
// The interface deliberately exposes no cursor; expiry sweeping is a
// planned extension that will add a time-bounded scan.
type Store interface {
	// Add inserts a new lease. Fails with ErrDuplicate when the address
	// is already leased.
	Add(ctx context.Context, l *Lease) error

	// GetByAddress returns the lease holding the address, or nil.
	GetByAddress(ctx context.Context, addr net.IP) (*Lease, error)

	// GetByClient returns the lease bound to (duid, iaid, subnetID), or nil.
	GetByClient(ctx context.Context, duid []byte, iaid uint32, subnetID uint32) (*Lease, error)

	// Update rewrites an existing lease. Fails with ErrNotFound when no
	// lease holds the address.
	Update(ctx context.Context, l *Lease) error

	// Delete removes the lease holding the address, reporting whether one
	// was removed.
	Delete(ctx context.Context, addr net.IP) (bool, error)

	// Close releases backend resources.
	Close() error
}
