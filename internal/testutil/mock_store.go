package testutil

import (
	"sync"

	"relayctl/internal/storage"
)

// MockStore implements storage.Store in memory.
type MockStore struct {
	mu sync.Mutex

	applied map[string]storage.AppliedEntry
	meta    *storage.DirectoryMeta

	// Error injection: method -> next error (consumed on first call).
	// Methods: "AppliedPut", "AppliedDelete", "AppliedList",
	// "DirectoryMeta", "SetDirectoryMeta".
	errors map[string]error

	calls map[string]int
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		applied: make(map[string]storage.AppliedEntry),
		errors:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetError injects an error to be returned on the next call to the named
// method. The error is consumed (returned once) and then cleared.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// Calls returns the total number of times the named method was called.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockStore) takeError(method string) error {
	if err := m.errors[method]; err != nil {
		delete(m.errors, method)
		return err
	}
	return nil
}

func (m *MockStore) AppliedPut(addr string, entry storage.AppliedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["AppliedPut"]++
	if err := m.takeError("AppliedPut"); err != nil {
		return err
	}
	m.applied[addr] = entry
	return nil
}

func (m *MockStore) AppliedDelete(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["AppliedDelete"]++
	if err := m.takeError("AppliedDelete"); err != nil {
		return err
	}
	delete(m.applied, addr)
	return nil
}

func (m *MockStore) AppliedList() (map[string]storage.AppliedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["AppliedList"]++
	if err := m.takeError("AppliedList"); err != nil {
		return nil, err
	}
	out := make(map[string]storage.AppliedEntry, len(m.applied))
	for k, v := range m.applied {
		out[k] = v
	}
	return out, nil
}

func (m *MockStore) DirectoryMeta() (*storage.DirectoryMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["DirectoryMeta"]++
	if err := m.takeError("DirectoryMeta"); err != nil {
		return nil, err
	}
	if m.meta == nil {
		return nil, nil
	}
	cp := *m.meta
	return &cp, nil
}

func (m *MockStore) SetDirectoryMeta(meta storage.DirectoryMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["SetDirectoryMeta"]++
	if err := m.takeError("SetDirectoryMeta"); err != nil {
		return err
	}
	m.meta = &meta
	return nil
}

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["SizeBytes"]++
	return int64(len(m.applied)), nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Close"]++
	return nil
}
