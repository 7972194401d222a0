// Package region tracks which regions the operator wants blocked and
// translates that intent into desired address sets for the synchronizer.
package region

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"relayctl/internal/directory"
	"relayctl/internal/metrics"
	"relayctl/internal/probe"
)

// Synchronizer is the slice of the rule synchronizer the controller needs.
type Synchronizer interface {
	Submit(desired []netip.Addr)
	SynchronizeNow(ctx context.Context, desired []netip.Addr) error
	Applied() []netip.Addr
}

// Prober is the slice of the network prober the controller needs.
type Prober interface {
	Retarget(addrs []netip.Addr)
	Snapshot() map[netip.Addr]probe.Result
}

// ServerStatus pairs a directory server with its live state.
type ServerStatus struct {
	Server   directory.Server
	Probe    probe.Result
	HasProbe bool
	Applied  bool // a rule for this address is confirmed on the host
}

// RegionStatus is the display view of one region. Blocked is the desired
// state; Applied and Pending show how far the firewall has converged.
type RegionStatus struct {
	Name    string
	Blocked bool
	Servers []ServerStatus
	Applied int
	Pending int
}

// Controller owns the per-region block flags. Toggle and Refresh submit
// asynchronously and return immediately; convergence is the synchronizer's
// job.
type Controller struct {
	syncer Synchronizer
	prober Prober
	log    zerolog.Logger

	mu      sync.Mutex
	dir     *directory.Directory
	blocked map[string]bool
}

// New builds a Controller with every region unblocked and submits the
// initial empty desired set, which sweeps any rules recovered from a
// previous run.
func New(dir *directory.Directory, syncer Synchronizer, prober Prober, log zerolog.Logger) *Controller {
	c := &Controller{
		syncer:  syncer,
		prober:  prober,
		log:     log,
		dir:     dir,
		blocked: make(map[string]bool, len(dir.Regions())),
	}
	for _, r := range dir.Regions() {
		c.blocked[r] = false
	}
	metrics.DirectoryServers.Set(float64(dir.Len()))
	metrics.BlockedRegions.Set(0)
	prober.Retarget(dir.AllAddrs())
	syncer.Submit(nil)
	return c
}

// Toggle flips one region's block flag and submits the recomputed desired
// set. Returns the new flag value.
func (c *Controller) Toggle(region string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dir.HasRegion(region) {
		return false, fmt.Errorf("unknown region %q", region)
	}
	c.blocked[region] = !c.blocked[region]
	now := c.blocked[region]
	c.log.Info().Str("region", region).Bool("blocked", now).Msg("region toggled")
	metrics.BlockedRegions.Set(float64(c.blockedCountLocked()))
	c.syncer.Submit(c.desiredLocked())
	return now, nil
}

// Refresh swaps in a new directory. Flags carry over for regions present in
// both; vanished regions lose their flag, new regions start unblocked. The
// desired set is resubmitted and the prober retargeted.
func (c *Controller) Refresh(dir *directory.Directory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	flags := make(map[string]bool, len(dir.Regions()))
	for _, r := range dir.Regions() {
		flags[r] = c.blocked[r]
	}
	c.dir = dir
	c.blocked = flags

	c.log.Info().Int("regions", len(flags)).Int("servers", dir.Len()).Msg("directory refreshed")
	metrics.DirectoryServers.Set(float64(dir.Len()))
	metrics.BlockedRegions.Set(float64(c.blockedCountLocked()))
	c.syncer.Submit(c.desiredLocked())
	c.prober.Retarget(dir.AllAddrs())
}

// Shutdown clears every flag and synchronously removes all rules, bounded
// by ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for r := range c.blocked {
		c.blocked[r] = false
	}
	c.mu.Unlock()
	metrics.BlockedRegions.Set(0)
	return c.syncer.SynchronizeNow(ctx, nil)
}

// Snapshot assembles the display view: desired flags, per-server probe
// results, and desired-vs-applied convergence counts.
func (c *Controller) Snapshot() []RegionStatus {
	c.mu.Lock()
	dir := c.dir
	flags := make(map[string]bool, len(c.blocked))
	for r, b := range c.blocked {
		flags[r] = b
	}
	c.mu.Unlock()

	applied := make(map[netip.Addr]struct{})
	for _, addr := range c.syncer.Applied() {
		applied[addr] = struct{}{}
	}
	probes := c.prober.Snapshot()

	out := make([]RegionStatus, 0, len(flags))
	for _, name := range dir.Regions() {
		rs := RegionStatus{Name: name, Blocked: flags[name]}
		for _, srv := range dir.ServersIn(name) {
			addr := srv.Addr.Unmap()
			result, ok := probes[addr]
			_, isApplied := applied[addr]
			rs.Servers = append(rs.Servers, ServerStatus{
				Server:   srv,
				Probe:    result,
				HasProbe: ok,
				Applied:  isApplied,
			})
			if isApplied {
				rs.Applied++
			} else if rs.Blocked {
				rs.Pending++
			}
		}
		out = append(out, rs)
	}
	return out
}

// Regions returns the current region names in display order.
func (c *Controller) Regions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir.Regions()
}

func (c *Controller) blockedCountLocked() int {
	n := 0
	for _, b := range c.blocked {
		if b {
			n++
		}
	}
	return n
}

// desiredLocked is the deduplicated union of addresses in blocked regions.
// Caller holds c.mu.
func (c *Controller) desiredLocked() []netip.Addr {
	seen := make(map[netip.Addr]struct{})
	var out []netip.Addr
	for region, blocked := range c.blocked {
		if !blocked {
			continue
		}
		for _, addr := range c.dir.AddrsIn(region) {
			addr = addr.Unmap()
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
