// Package rulesync converges the host firewall on a desired set of blocked
// addresses. It is the only writer of firewall rules and of the applied-rule
// record; everything else submits desired sets and reads status.
package rulesync

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayctl/internal/firewall"
	"relayctl/internal/metrics"
	"relayctl/internal/storage"
)

// SyncError aggregates per-address failures of one synchronize pass.
// Addresses not listed were applied; the next pass retries only the
// failed ones.
type SyncError struct {
	Failed map[netip.Addr]error
}

func (e *SyncError) Error() string {
	addrs := make([]string, 0, len(e.Failed))
	for addr := range e.Failed {
		addrs = append(addrs, addr.String())
	}
	sort.Strings(addrs)
	return fmt.Sprintf("sync failed for %d address(es): %s", len(addrs), strings.Join(addrs, ", "))
}

// Status is the outcome of one synchronize pass, published for display.
type Status struct {
	At      time.Time
	Applied int // applied set size after the pass
	Added   int
	Removed int
	Failed  int
	Err     error
}

// Config holds synchronizer tuning.
type Config struct {
	StatusBuffer int  // status channel depth, drop-oldest when full
	DryRun       bool // log operations instead of calling the backend
}

// Synchronizer owns the applied rule set. At most one synchronize pass runs
// at a time; Submit coalesces, the newest desired set always wins.
type Synchronizer struct {
	cfg     Config
	backend firewall.Backend
	store   storage.Store
	log     zerolog.Logger

	mu      sync.Mutex
	applied map[netip.Addr]struct{}

	pending chan map[netip.Addr]struct{}
	status  chan Status
}

// New builds a Synchronizer. The applied set is seeded from the store so
// rules left behind by a previous run are swept by the first pass.
func New(cfg Config, backend firewall.Backend, store storage.Store, log zerolog.Logger) (*Synchronizer, error) {
	if cfg.StatusBuffer < 1 {
		cfg.StatusBuffer = 16
	}
	s := &Synchronizer{
		cfg:     cfg,
		backend: backend,
		store:   store,
		log:     log,
		applied: make(map[netip.Addr]struct{}),
		pending: make(chan map[netip.Addr]struct{}, 1),
		status:  make(chan Status, cfg.StatusBuffer),
	}
	entries, err := store.AppliedList()
	if err != nil {
		return nil, fmt.Errorf("load applied rules: %w", err)
	}
	for raw := range entries {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			log.Warn().Str("addr", raw).Msg("dropping unparseable applied record")
			continue
		}
		s.applied[addr.Unmap()] = struct{}{}
	}
	if len(s.applied) > 0 {
		log.Info().Int("count", len(s.applied)).Msg("recovered applied rules from store")
	}
	metrics.AppliedRules.Set(float64(len(s.applied)))
	return s, nil
}

// Submit hands the synchronizer a new desired set. Never blocks; if a set is
// already waiting it is replaced, so intermediate states are skipped.
func (s *Synchronizer) Submit(desired []netip.Addr) {
	set := normalize(desired)
	for {
		select {
		case s.pending <- set:
			return
		default:
		}
		select {
		case <-s.pending:
			metrics.SubmissionsCoalesced.Inc()
		default:
		}
	}
}

// Run consumes submitted sets until ctx is cancelled. Partial failures are
// logged and retried by the next submission; a privilege error is fatal and
// returned to the caller.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case desired := <-s.pending:
			if err := s.synchronize(ctx, desired); err != nil {
				if errors.Is(err, firewall.ErrPrivilege) {
					return err
				}
				s.log.Error().Err(err).Msg("synchronize pass failed")
			}
		}
	}
}

// SynchronizeNow applies a desired set synchronously. Used for the one-shot
// reconcile command and the shutdown clear.
func (s *Synchronizer) SynchronizeNow(ctx context.Context, desired []netip.Addr) error {
	return s.synchronize(ctx, normalize(desired))
}

// Applied returns a sorted copy of the current applied set.
func (s *Synchronizer) Applied() []netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]netip.Addr, 0, len(s.applied))
	for addr := range s.applied {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return out
}

// Status exposes the pass-outcome channel. Slow readers lose the oldest
// entries, never block the synchronizer.
func (s *Synchronizer) Status() <-chan Status {
	return s.status
}

func (s *Synchronizer) synchronize(ctx context.Context, desired map[netip.Addr]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove, toAdd []netip.Addr
	for addr := range s.applied {
		if _, keep := desired[addr]; !keep {
			toRemove = append(toRemove, addr)
		}
	}
	for addr := range desired {
		if _, have := s.applied[addr]; !have {
			toAdd = append(toAdd, addr)
		}
	}
	if len(toRemove) == 0 && len(toAdd) == 0 {
		metrics.SyncPasses.WithLabelValues("noop").Inc()
		return nil
	}
	cmp := func(a, b netip.Addr) int { return a.Compare(b) }
	slices.SortFunc(toRemove, cmp)
	slices.SortFunc(toAdd, cmp)

	start := time.Now()
	failed := make(map[netip.Addr]error)
	var added, removed int

	// Removals first so a region flip never leaves both the old and new
	// rule sets active at once.
	for _, addr := range toRemove {
		if err := s.unblock(ctx, addr); err != nil {
			if errors.Is(err, firewall.ErrPrivilege) {
				s.finish(start, added, removed, failed, err)
				return fmt.Errorf("unblock %s: %w", addr, err)
			}
			failed[addr] = err
			continue
		}
		removed++
	}
	for _, addr := range toAdd {
		if err := s.block(ctx, addr); err != nil {
			if errors.Is(err, firewall.ErrPrivilege) {
				s.finish(start, added, removed, failed, err)
				return fmt.Errorf("block %s: %w", addr, err)
			}
			failed[addr] = err
			continue
		}
		added++
	}

	var err error
	if len(failed) > 0 {
		err = &SyncError{Failed: failed}
		metrics.SyncPasses.WithLabelValues("partial").Inc()
	} else {
		metrics.SyncPasses.WithLabelValues("ok").Inc()
	}
	s.finish(start, added, removed, failed, err)
	return err
}

func (s *Synchronizer) block(ctx context.Context, addr netip.Addr) error {
	if s.cfg.DryRun {
		s.log.Info().Str("addr", addr.String()).Msg("dry-run: would block")
	} else if err := s.backend.Block(ctx, addr); err != nil {
		metrics.SyncOps.WithLabelValues("block", "error").Inc()
		return err
	}
	metrics.SyncOps.WithLabelValues("block", "success").Inc()
	s.applied[addr] = struct{}{}
	if err := s.store.AppliedPut(addr.String(), storage.AppliedEntry{RecordedAt: time.Now()}); err != nil {
		s.log.Warn().Err(err).Str("addr", addr.String()).Msg("applied record write failed")
	}
	return nil
}

func (s *Synchronizer) unblock(ctx context.Context, addr netip.Addr) error {
	if s.cfg.DryRun {
		s.log.Info().Str("addr", addr.String()).Msg("dry-run: would unblock")
	} else if err := s.backend.Unblock(ctx, addr); err != nil {
		metrics.SyncOps.WithLabelValues("unblock", "error").Inc()
		return err
	}
	metrics.SyncOps.WithLabelValues("unblock", "success").Inc()
	delete(s.applied, addr)
	if err := s.store.AppliedDelete(addr.String()); err != nil {
		s.log.Warn().Err(err).Str("addr", addr.String()).Msg("applied record delete failed")
	}
	return nil
}

// finish records pass metrics and publishes the outcome. Caller holds s.mu.
func (s *Synchronizer) finish(start time.Time, added, removed int, failed map[netip.Addr]error, err error) {
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	metrics.AppliedRules.Set(float64(len(s.applied)))
	s.log.Info().
		Int("added", added).
		Int("removed", removed).
		Int("failed", len(failed)).
		Int("applied", len(s.applied)).
		Msg("synchronize pass complete")

	st := Status{
		At:      time.Now(),
		Applied: len(s.applied),
		Added:   added,
		Removed: removed,
		Failed:  len(failed),
		Err:     err,
	}
	for {
		select {
		case s.status <- st:
			return
		default:
		}
		select {
		case <-s.status:
		default:
		}
	}
}

func normalize(addrs []netip.Addr) map[netip.Addr]struct{} {
	set := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		set[a.Unmap()] = struct{}{}
	}
	return set
}
