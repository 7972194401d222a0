//go:build windows

package firewall

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// windowsBackend manages one named Windows Defender Firewall rule per
// blocked address via netsh. Rules persist across restarts until this tool
// removes them, which is why clean shutdown clears the whole set and a
// startup sweep reconciles anything left behind.
type windowsBackend struct {
	log zerolog.Logger
}

func newPlatformBackend(log zerolog.Logger) (Backend, error) {
	// Probing the rule store verifies both that netsh is available and
	// that the process can read the firewall configuration.
	out, err := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name=all").CombinedOutput()
	if err != nil {
		if isElevationFailure(out) {
			return nil, fmt.Errorf("%w: netsh: %s", ErrPrivilege, firstLine(out))
		}
		return nil, fmt.Errorf("netsh probe: %v: %s", err, firstLine(out))
	}
	return &windowsBackend{log: log}, nil
}

func (b *windowsBackend) Block(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	out, err := exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
		"name="+RuleName(addr),
		"dir=out",
		"interface=any",
		"action=block",
		fmt.Sprintf("remoteip=%s/%d", addr, bits),
	).CombinedOutput()
	if err != nil {
		return &OpError{Op: "block", Addr: addr, Err: wrapNetshErr(out, err)}
	}
	b.log.Debug().Str("addr", addr.String()).Msg("firewall rule added")
	return nil
}

func (b *windowsBackend) Unblock(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()
	out, err := exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "delete", "rule",
		"name="+RuleName(addr),
	).CombinedOutput()
	if err != nil {
		// netsh exits non-zero when no rule matched; that makes a repeated
		// unblock idempotent rather than an error.
		if strings.Contains(string(out), "No rules match") {
			return nil
		}
		return &OpError{Op: "unblock", Addr: addr, Err: wrapNetshErr(out, err)}
	}
	b.log.Debug().Str("addr", addr.String()).Msg("firewall rule removed")
	return nil
}

func (b *windowsBackend) Blocked(ctx context.Context) ([]netip.Addr, error) {
	out, err := exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "show", "rule",
		"name=all", "dir=out").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("list firewall rules: %w", wrapNetshErr(out, err))
	}
	return scanRuleNames(string(out)), nil
}

func (b *windowsBackend) Close() error { return nil }

// scanRuleNames extracts tool-owned addresses from `netsh ... show rule`
// output. Rule names appear verbatim regardless of system locale, so only
// the prefix is matched, never the surrounding field labels.
func scanRuleNames(out string) []netip.Addr {
	var addrs []netip.Addr
	seen := make(map[netip.Addr]struct{})
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, RulePrefix)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[idx:])
		addr, ok := ParseRuleName(name)
		if !ok {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	return addrs
}

func wrapNetshErr(out []byte, err error) error {
	if isElevationFailure(out) {
		return fmt.Errorf("%w: %s", ErrPrivilege, firstLine(out))
	}
	return fmt.Errorf("netsh: %v: %s", err, firstLine(out))
}

// isElevationFailure recognizes the access-denied responses netsh emits
// when run without administrator rights.
func isElevationFailure(out []byte) bool {
	s := string(out)
	return strings.Contains(s, "requires elevation") ||
		strings.Contains(s, "Access is denied")
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
