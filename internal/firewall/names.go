package firewall

import (
	"net/netip"
	"strings"
)

// RulePrefix tags every rule relayctl owns. On Windows it is the literal
// rule-name prefix; on Linux the table name carries the tag instead.
const RulePrefix = "relayctl-block-"

// RuleName renders the tool-owned rule name for an address.
func RuleName(addr netip.Addr) string {
	return RulePrefix + addr.Unmap().String()
}

// ParseRuleName extracts the address from a tool-owned rule name.
// Returns false for names this tool does not own.
func ParseRuleName(name string) (netip.Addr, bool) {
	rest, ok := strings.CutPrefix(name, RulePrefix)
	if !ok {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(rest)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
