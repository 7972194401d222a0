// Package testutil provides in-memory doubles for the firewall backend and
// the persistence store. All mocks are safe for concurrent use.
package testutil

import (
	"context"
	"net/netip"
	"slices"
	"sync"
)

// MockBackend implements firewall.Backend against an in-memory rule set.
type MockBackend struct {
	mu sync.Mutex

	blocked map[netip.Addr]struct{}

	// Error injection: method -> next error (consumed on first call).
	// Methods: "Block", "Unblock", "Blocked", "Close".
	errors map[string]error

	// Per-address error injection for Block/Unblock, consumed on first call.
	addrErrors map[netip.Addr]error

	// Call counts per method.
	calls map[string]int

	// Ordered log of operations, e.g. "block 10.0.0.1", "unblock 10.0.0.2".
	ops []string
}

// NewMockBackend returns a zero-state MockBackend ready for use.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		blocked:    make(map[netip.Addr]struct{}),
		errors:     make(map[string]error),
		addrErrors: make(map[netip.Addr]error),
		calls:      make(map[string]int),
	}
}

// SetError injects an error to be returned on the next call to the named
// method. The error is consumed (returned once) and then cleared.
func (m *MockBackend) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// SetAddrError injects an error for the next Block or Unblock of addr.
func (m *MockBackend) SetAddrError(addr netip.Addr, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrErrors[addr] = err
}

// Calls returns the total number of times the named method was called.
func (m *MockBackend) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Ops returns the ordered operation log.
func (m *MockBackend) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

// Seed marks addresses as already blocked without recording operations.
func (m *MockBackend) Seed(addrs ...netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range addrs {
		m.blocked[a] = struct{}{}
	}
}

// IsBlocked reports whether addr is currently in the rule set.
func (m *MockBackend) IsBlocked(addr netip.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocked[addr]
	return ok
}

func (m *MockBackend) takeError(method string, addr netip.Addr) error {
	if err := m.errors[method]; err != nil {
		delete(m.errors, method)
		return err
	}
	if err := m.addrErrors[addr]; err != nil {
		delete(m.addrErrors, addr)
		return err
	}
	return nil
}

func (m *MockBackend) Block(_ context.Context, addr netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Block"]++
	if err := m.takeError("Block", addr); err != nil {
		return err
	}
	m.blocked[addr] = struct{}{}
	m.ops = append(m.ops, "block "+addr.String())
	return nil
}

func (m *MockBackend) Unblock(_ context.Context, addr netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Unblock"]++
	if err := m.takeError("Unblock", addr); err != nil {
		return err
	}
	delete(m.blocked, addr)
	m.ops = append(m.ops, "unblock "+addr.String())
	return nil
}

func (m *MockBackend) Blocked(_ context.Context) ([]netip.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Blocked"]++
	if err := m.errors["Blocked"]; err != nil {
		delete(m.errors, "Blocked")
		return nil, err
	}
	out := make([]netip.Addr, 0, len(m.blocked))
	for addr := range m.blocked {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return out, nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Close"]++
	if err := m.errors["Close"]; err != nil {
		delete(m.errors, "Close")
		return err
	}
	return nil
}
