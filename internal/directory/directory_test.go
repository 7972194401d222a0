package directory

import (
	"errors"
	"net/netip"
	"testing"
)

const samplePayload = `{
	"revision": 42,
	"pops": {
		"ams": {
			"desc": "Amsterdam",
			"relays": [
				{"ipv4": "155.133.248.39", "port_range": [27015, 27068]},
				{"ipv4": "155.133.248.40", "port_range": [27015, 27068]}
			]
		},
		"fra": {
			"desc": "Frankfurt",
			"relays": [
				{"ipv4": "162.254.197.39", "port_range": [27015, 27068]}
			]
		},
		"ctl": {
			"desc": "Control plane only"
		}
	}
}`

func TestParseValidPayload(t *testing.T) {
	dir, err := Parse([]byte(samplePayload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	regions := dir.Regions()
	if len(regions) != 2 {
		t.Fatalf("regions = %v, want [ams fra] (relay-less pops skipped)", regions)
	}
	if regions[0] != "ams" || regions[1] != "fra" {
		t.Errorf("regions not sorted: %v", regions)
	}

	if got := len(dir.ServersIn("ams")); got != 2 {
		t.Errorf("ams servers = %d, want 2", got)
	}
	if got := dir.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}

	fra := dir.ServersIn("fra")
	if fra[0].Label != "Frankfurt" {
		t.Errorf("fra label = %q, want Frankfurt", fra[0].Label)
	}
	want := netip.MustParseAddr("162.254.197.39")
	if fra[0].Addr != want {
		t.Errorf("fra addr = %s, want %s", fra[0].Addr, want)
	}
}

func TestParseRejectsMalformedAddress(t *testing.T) {
	raw := `{"pops": {
		"ams": {"relays": [{"ipv4": "155.133.248.39"}]},
		"bad": {"relays": [{"ipv4": "not-an-ip"}]}
	}}`
	_, err := Parse([]byte(raw))
	if err == nil {
		t.Fatal("Parse accepted malformed address")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":   "{{{",
		"no pops":    `{"revision": 1}`,
		"empty pops": `{"pops": {}}`,
		"no relays":  `{"pops": {"a": {"desc": "x"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Errorf("Parse accepted %s payload", name)
			}
		})
	}
}

func TestParseDeduplicatesWithinRegion(t *testing.T) {
	raw := `{"pops": {"ams": {"relays": [
		{"ipv4": "10.0.0.1"}, {"ipv4": "10.0.0.1"}, {"ipv4": "10.0.0.2"}
	]}}}`
	dir, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := len(dir.ServersIn("ams")); got != 2 {
		t.Errorf("ams servers = %d, want 2 (duplicate address collapsed)", got)
	}
}

func TestParseAllowsDuplicateAcrossRegions(t *testing.T) {
	raw := `{"pops": {
		"a": {"relays": [{"ipv4": "10.0.0.1"}]},
		"b": {"relays": [{"ipv4": "10.0.0.1"}]}
	}}`
	dir, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if dir.Len() != 2 {
		t.Errorf("Len = %d, want 2 (same address counted per region)", dir.Len())
	}
	if got := len(dir.AllAddrs()); got != 1 {
		t.Errorf("AllAddrs = %d entries, want 1 (union)", got)
	}
}

func TestAllAddrsSortedUnion(t *testing.T) {
	dir, err := Parse([]byte(samplePayload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	addrs := dir.AllAddrs()
	if len(addrs) != 3 {
		t.Fatalf("AllAddrs = %d, want 3", len(addrs))
	}
	for i := 1; i < len(addrs); i++ {
		if !addrs[i-1].Less(addrs[i]) {
			t.Errorf("AllAddrs not sorted at %d: %s !< %s", i, addrs[i-1], addrs[i])
		}
	}
}

func TestServersInUnknownRegion(t *testing.T) {
	dir, err := Parse([]byte(samplePayload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := dir.ServersIn("nope"); got != nil {
		t.Errorf("ServersIn(nope) = %v, want nil", got)
	}
	if dir.HasRegion("nope") {
		t.Error("HasRegion(nope) = true")
	}
	if !dir.HasRegion("ams") {
		t.Error("HasRegion(ams) = false")
	}
}

func TestRegionsReturnsCopy(t *testing.T) {
	dir, err := Parse([]byte(samplePayload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	regions := dir.Regions()
	regions[0] = "mutated"
	if dir.Regions()[0] == "mutated" {
		t.Error("Regions() exposed internal slice")
	}
}
