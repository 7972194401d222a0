package storage

import (
	"time"
)

// AppliedEntry records one address the synchronizer has confirmed blocked.
// The record survives restarts so stale rules left by an unclean shutdown
// can be swept on the next run.
type AppliedEntry struct {
	RecordedAt time.Time
}

// DirectoryMeta holds revalidation state for the server directory download.
type DirectoryMeta struct {
	URL       string
	ETag      string
	FetchedAt time.Time
}

// Store is the persistence interface for relayctl.
type Store interface {
	// Applied rule set (write-through from the synchronizer)
	AppliedPut(addr string, entry AppliedEntry) error
	AppliedDelete(addr string) error
	AppliedList() (map[string]AppliedEntry, error)

	// Directory download metadata
	DirectoryMeta() (*DirectoryMeta, error)
	SetDirectoryMeta(meta DirectoryMeta) error

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
