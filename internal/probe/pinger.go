package probe

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/go-ping/ping"
)

// ErrTimeout marks a probe cycle with no reply inside the deadline. It is
// recorded as a miss, never propagated as a failure.
var ErrTimeout = errors.New("probe timed out")

// Pinger sends one echo request and reports the round-trip time.
type Pinger interface {
	Ping(ctx context.Context, addr netip.Addr, timeout time.Duration) (time.Duration, error)
}

// icmpPinger is the production Pinger on privileged raw ICMP sockets.
type icmpPinger struct{}

// NewICMPPinger returns the raw-socket ICMP pinger. The process must be
// elevated for privileged mode to work.
func NewICMPPinger() Pinger {
	return icmpPinger{}
}

func (icmpPinger) Ping(ctx context.Context, addr netip.Addr, timeout time.Duration) (time.Duration, error) {
	pinger, err := ping.NewPinger(addr.Unmap().String())
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return 0, err
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, ErrTimeout
	}
	return stats.AvgRtt, nil
}
