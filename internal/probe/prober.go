// Package probe measures reachability of directory servers with repeating
// ICMP echo cycles, one independent loop per address. Probing is entirely
// decoupled from firewall state: blocked addresses keep being probed so the
// operator can see whether fallback routing still reaches them.
package probe

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayctl/internal/metrics"
)

// Result is a point-in-time view of one address. RTT is the most recent
// successful round-trip; Reachable is false when the latest outcome was a
// miss. Never torn: each record is copied out under its own lock.
type Result struct {
	RTT        time.Duration
	Reachable  bool
	LossRatio  float64
	Samples    int
	LastUpdate time.Time
}

// Config holds prober tuning.
type Config struct {
	Interval time.Duration // cycle interval per address
	Timeout  time.Duration // bounded wait per echo
	Window   int           // rolling window size
}

// Prober owns the probe-result table. All mutation happens on the prober's
// own goroutines; external access is snapshot-only.
type Prober struct {
	cfg    Config
	pinger Pinger
	log    zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancels map[netip.Addr]context.CancelFunc
	records map[netip.Addr]*record
	wg      sync.WaitGroup
}

type record struct {
	mu        sync.Mutex
	win       *window
	lastRTT   time.Duration
	reachable bool
	updated   time.Time
}

// New constructs a Prober. Start must be called before Retarget.
func New(cfg Config, pinger Pinger, log zerolog.Logger) *Prober {
	if cfg.Window < 1 {
		cfg.Window = 20
	}
	return &Prober{
		cfg:     cfg,
		pinger:  pinger,
		log:     log,
		cancels: make(map[netip.Addr]context.CancelFunc),
		records: make(map[netip.Addr]*record),
	}
}

// Start binds the prober to its lifetime context. Probe loops launched by
// Retarget stop when ctx is cancelled.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
}

// Retarget reconciles the probed address set. Loops for vanished addresses
// are cancelled and their results discarded; loops for surviving addresses
// keep running with their windows intact.
func (p *Prober) Retarget(addrs []netip.Addr) {
	desired := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		desired[a.Unmap()] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		panic("probe: Retarget before Start")
	}

	for addr, cancel := range p.cancels {
		if _, keep := desired[addr]; keep {
			continue
		}
		cancel()
		delete(p.cancels, addr)
		delete(p.records, addr)
		metrics.ProbeLossRatio.DeleteLabelValues(addr.String())
	}

	for addr := range desired {
		if _, running := p.cancels[addr]; running {
			continue
		}
		ctx, cancel := context.WithCancel(p.ctx)
		rec := &record{win: newWindow(p.cfg.Window)}
		p.cancels[addr] = cancel
		p.records[addr] = rec
		p.wg.Add(1)
		go p.loop(ctx, addr, rec)
	}
}

// Stop cancels all probe loops and waits for them to return.
func (p *Prober) Stop() {
	p.mu.Lock()
	for addr, cancel := range p.cancels {
		cancel()
		delete(p.cancels, addr)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Snapshot returns a copy of every address's current result.
func (p *Prober) Snapshot() map[netip.Addr]Result {
	p.mu.Lock()
	records := make(map[netip.Addr]*record, len(p.records))
	for addr, rec := range p.records {
		records[addr] = rec
	}
	p.mu.Unlock()

	out := make(map[netip.Addr]Result, len(records))
	for addr, rec := range records {
		rec.mu.Lock()
		out[addr] = Result{
			RTT:        rec.lastRTT,
			Reachable:  rec.reachable,
			LossRatio:  rec.win.lossRatio(),
			Samples:    rec.win.size(),
			LastUpdate: rec.updated,
		}
		rec.mu.Unlock()
	}
	return out
}

// loop runs one address's probe cycle until its context is cancelled.
// A slow or unreachable address only ever delays itself.
func (p *Prober) loop(ctx context.Context, addr netip.Addr, rec *record) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.probeOnce(ctx, addr, rec)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, addr, rec)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, addr netip.Addr, rec *record) {
	metrics.ProbesSent.Inc()
	rtt, err := p.pinger.Ping(ctx, addr, p.cfg.Timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return // shutdown or retarget, not an outcome
		}
		if !errors.Is(err, ErrTimeout) {
			// Socket-level failures are recorded as misses too; they mean
			// the endpoint was not reached.
			p.log.Debug().Err(err).Str("addr", addr.String()).Msg("probe error")
		}
		metrics.ProbesLost.Inc()
	} else {
		metrics.ProbeRTT.Observe(rtt.Seconds())
	}

	hit := err == nil
	rec.mu.Lock()
	rec.win.push(hit)
	if hit {
		rec.lastRTT = rtt
	}
	rec.reachable = hit
	rec.updated = time.Now()
	loss := rec.win.lossRatio()
	rec.mu.Unlock()

	metrics.ProbeLossRatio.WithLabelValues(addr.String()).Set(loss)
}
