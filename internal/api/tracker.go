package api

import (
	"context"
	"sync"

	"relayctl/internal/rulesync"
)

// SyncTracker retains the most recent synchronize outcome so the API can
// serve it on demand. The daemon pushes nothing; displays poll.
type SyncTracker struct {
	mu   sync.Mutex
	last *rulesync.Status
}

// Run consumes pass outcomes until ctx is cancelled.
func (t *SyncTracker) Run(ctx context.Context, ch <-chan rulesync.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ch:
			t.mu.Lock()
			t.last = &st
			t.mu.Unlock()
		}
	}
}

// Last returns the most recent outcome, false if no pass has completed yet.
func (t *SyncTracker) Last() (rulesync.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return rulesync.Status{}, false
	}
	return *t.last, true
}
