// Package firewall abstracts the host firewall behind a small capability
// interface. Each platform implementation owns exactly one tool-tagged rule
// container and never touches rules it did not create. No other package
// branches on the platform.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"
)

var (
	// ErrPrivilege means the OS denied a firewall mutation. There is no
	// useful retry; the process must run elevated.
	ErrPrivilege = errors.New("insufficient privilege for firewall mutation")

	// ErrUnsupported means no backend exists for this platform.
	ErrUnsupported = errors.New("no firewall backend for this platform")
)

// Backend mutates the tool-owned rule container. Block and Unblock are
// idempotent: repeating an operation leaves the OS rule set unchanged.
type Backend interface {
	// Block inserts a deny rule for the address.
	Block(ctx context.Context, addr netip.Addr) error

	// Unblock removes the deny rule for the address, if present.
	Unblock(ctx context.Context, addr netip.Addr) error

	// Blocked lists the addresses currently present in the tool-owned
	// container, used for the startup reconciliation sweep.
	Blocked(ctx context.Context) ([]netip.Addr, error)

	Close() error
}

// OpError reports a failed mutation for a single address. The synchronizer
// aggregates these; one address failing never aborts the rest of a batch.
type OpError struct {
	Op   string // "block" or "unblock"
	Addr netip.Addr
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("firewall %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// New returns the backend for the current platform.
func New(log zerolog.Logger) (Backend, error) {
	return newPlatformBackend(log)
}
