//go:build linux

package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	tableName = "relayctl"
	chainName = "input"
)

// linuxBackend drops inbound traffic from blocked addresses via a dedicated
// nftables table. The table is exclusively ours, so deleting rules can never
// touch foreign configuration. nftables rules do not survive a reboot; that
// is a documented limitation, not a bug.
type linuxBackend struct {
	conn  *nftables.Conn
	table *nftables.Table
	chain *nftables.Chain
	log   zerolog.Logger
}

func newPlatformBackend(log zerolog.Logger) (Backend, error) {
	conn := &nftables.Conn{}

	table := conn.AddTable(&nftables.Table{
		Name:   tableName,
		Family: nftables.TableFamilyINet,
	})
	chain := conn.AddChain(&nftables.Chain{
		Name:     chainName,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
	})
	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("ensure nftables table %s: %w", tableName, mapPrivilege(err))
	}

	return &linuxBackend{conn: conn, table: table, chain: chain, log: log}, nil
}

func (b *linuxBackend) Block(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()

	existing, err := b.findRules(addr)
	if err != nil {
		return &OpError{Op: "block", Addr: addr, Err: err}
	}
	if len(existing) > 0 {
		return nil // already blocked
	}

	b.conn.AddRule(&nftables.Rule{
		Table: b.table,
		Chain: b.chain,
		Exprs: dropExprs(addr),
	})
	if err := b.conn.Flush(); err != nil {
		return &OpError{Op: "block", Addr: addr, Err: mapPrivilege(err)}
	}
	b.log.Debug().Str("addr", addr.String()).Msg("nftables drop rule added")
	return nil
}

func (b *linuxBackend) Unblock(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()

	rules, err := b.findRules(addr)
	if err != nil {
		return &OpError{Op: "unblock", Addr: addr, Err: err}
	}
	if len(rules) == 0 {
		return nil // already absent
	}

	for _, rule := range rules {
		if err := b.conn.DelRule(rule); err != nil {
			return &OpError{Op: "unblock", Addr: addr, Err: err}
		}
	}
	if err := b.conn.Flush(); err != nil {
		return &OpError{Op: "unblock", Addr: addr, Err: mapPrivilege(err)}
	}
	b.log.Debug().Str("addr", addr.String()).Msg("nftables drop rule removed")
	return nil
}

func (b *linuxBackend) Blocked(ctx context.Context) ([]netip.Addr, error) {
	rules, err := b.conn.GetRules(b.table, b.chain)
	if err != nil {
		return nil, fmt.Errorf("list nftables rules: %w", mapPrivilege(err))
	}
	addrs := make([]netip.Addr, 0, len(rules))
	for _, rule := range rules {
		if addr, ok := addrFromExprs(rule.Exprs); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

func (b *linuxBackend) Close() error { return nil }

// findRules returns the rules in our chain matching the address.
func (b *linuxBackend) findRules(addr netip.Addr) ([]*nftables.Rule, error) {
	rules, err := b.conn.GetRules(b.table, b.chain)
	if err != nil {
		return nil, mapPrivilege(err)
	}
	var matched []*nftables.Rule
	for _, rule := range rules {
		if got, ok := addrFromExprs(rule.Exprs); ok && got == addr {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// dropExprs builds the expressions for "<family> saddr <addr> drop" in an
// inet-family chain.
func dropExprs(addr netip.Addr) []expr.Any {
	proto := byte(unix.NFPROTO_IPV4)
	offset, length := uint32(12), uint32(4)
	if addr.Is6() {
		proto = unix.NFPROTO_IPV6
		offset, length = 8, 16
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          length,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: addr.AsSlice()},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}

// addrFromExprs recovers the source address a rule matches on. Only rules
// shaped like dropExprs output are recognized; anything else is ignored.
func addrFromExprs(exprs []expr.Any) (netip.Addr, bool) {
	sawPayload := false
	for _, e := range exprs {
		switch v := e.(type) {
		case *expr.Payload:
			sawPayload = v.Base == expr.PayloadBaseNetworkHeader
		case *expr.Cmp:
			if !sawPayload {
				continue
			}
			if len(v.Data) == 4 || len(v.Data) == 16 {
				if addr, ok := netip.AddrFromSlice(v.Data); ok {
					return addr.Unmap(), true
				}
			}
			sawPayload = false
		}
	}
	return netip.Addr{}, false
}

// mapPrivilege folds permission failures into the fatal sentinel.
func mapPrivilege(err error) error {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("%w: %v", ErrPrivilege, err)
	}
	return err
}
