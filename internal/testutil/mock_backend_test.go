package testutil_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"relayctl/internal/testutil"
)

func TestMockBackend_BlockUnblock(t *testing.T) {
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.1")

	t.Run("block then unblock", func(t *testing.T) {
		m := testutil.NewMockBackend()
		if err := m.Block(ctx, addr); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !m.IsBlocked(addr) {
			t.Fatal("addr not blocked after Block")
		}
		if err := m.Unblock(ctx, addr); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.IsBlocked(addr) {
			t.Fatal("addr still blocked after Unblock")
		}
	})

	t.Run("ops log preserves order", func(t *testing.T) {
		m := testutil.NewMockBackend()
		_ = m.Block(ctx, addr)
		_ = m.Unblock(ctx, addr)
		ops := m.Ops()
		if len(ops) != 2 || ops[0] != "block 10.0.0.1" || ops[1] != "unblock 10.0.0.1" {
			t.Fatalf("unexpected ops: %v", ops)
		}
	})

	t.Run("blocked lists sorted", func(t *testing.T) {
		m := testutil.NewMockBackend()
		m.Seed(netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.1"))
		got, err := m.Blocked(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].String() != "10.0.0.1" {
			t.Fatalf("unexpected list: %v", got)
		}
	})
}

func TestMockBackend_ErrorInjection(t *testing.T) {
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.1")
	boom := errors.New("boom")

	t.Run("method error consumed once", func(t *testing.T) {
		m := testutil.NewMockBackend()
		m.SetError("Block", boom)
		if err := m.Block(ctx, addr); !errors.Is(err, boom) {
			t.Fatalf("expected injected error, got %v", err)
		}
		if err := m.Block(ctx, addr); err != nil {
			t.Fatalf("error not cleared after first call: %v", err)
		}
	})

	t.Run("failed block does not mutate state", func(t *testing.T) {
		m := testutil.NewMockBackend()
		m.SetError("Block", boom)
		_ = m.Block(ctx, addr)
		if m.IsBlocked(addr) {
			t.Fatal("failed Block mutated the rule set")
		}
	})

	t.Run("per-address error", func(t *testing.T) {
		m := testutil.NewMockBackend()
		other := netip.MustParseAddr("10.0.0.2")
		m.SetAddrError(addr, boom)
		if err := m.Block(ctx, other); err != nil {
			t.Fatalf("uninjected addr failed: %v", err)
		}
		if err := m.Block(ctx, addr); !errors.Is(err, boom) {
			t.Fatalf("expected injected error, got %v", err)
		}
	})

	t.Run("call counting", func(t *testing.T) {
		m := testutil.NewMockBackend()
		_ = m.Block(ctx, addr)
		_ = m.Block(ctx, addr)
		if got := m.Calls("Block"); got != 2 {
			t.Fatalf("Calls(Block) = %d, want 2", got)
		}
	})
}
