// Package directory holds the immutable catalog of known relay servers,
// grouped by region tag. A Directory is built once by Parse and never
// mutated; refreshes replace the whole value.
package directory

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"
)

// Server is one probed/blockable endpoint. Immutable once loaded.
type Server struct {
	Addr   netip.Addr
	Region string
	Label  string
}

// Directory maps region tags to their servers. Region order is stable
// (sorted tags). Safe for concurrent reads.
type Directory struct {
	regions []string
	servers map[string][]Server
	count   int
}

// ParseError reports a rejected directory payload. The whole payload is
// rejected on any malformed entry; there is no partial load.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("directory parse: %s: %v", e.Reason, e.Err)
	}
	return "directory parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// payload mirrors the published network datagram config. Only the fields
// relayctl consumes are decoded.
type payload struct {
	Revision int                `json:"revision"`
	Pops     map[string]popInfo `json:"pops"`
}

type popInfo struct {
	Desc   string      `json:"desc"`
	Relays []relayInfo `json:"relays"`
}

type relayInfo struct {
	IPv4      string `json:"ipv4"`
	PortRange []int  `json:"port_range"`
}

// Parse validates and builds a Directory from a raw payload. Pops without
// relays host no endpoints and are skipped; any malformed relay address or
// empty region tag rejects the whole payload.
func Parse(raw []byte) (*Directory, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if len(p.Pops) == 0 {
		return nil, &ParseError{Reason: "payload has no pops"}
	}

	servers := make(map[string][]Server)
	count := 0
	for region, pop := range p.Pops {
		if region == "" {
			return nil, &ParseError{Reason: "empty region tag"}
		}
		if len(pop.Relays) == 0 {
			continue
		}
		label := pop.Desc
		if label == "" {
			label = region
		}
		seen := make(map[netip.Addr]struct{}, len(pop.Relays))
		for _, relay := range pop.Relays {
			addr, err := netip.ParseAddr(relay.IPv4)
			if err != nil {
				return nil, &ParseError{
					Reason: fmt.Sprintf("region %q has malformed relay address %q", region, relay.IPv4),
					Err:    err,
				}
			}
			// Address uniqueness is per region; the same address may
			// appear under several regions.
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			servers[region] = append(servers[region], Server{
				Addr:   addr,
				Region: region,
				Label:  label,
			})
			count++
		}
	}

	if count == 0 {
		return nil, &ParseError{Reason: "payload has no relay addresses"}
	}

	regions := make([]string, 0, len(servers))
	for region := range servers {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	return &Directory{regions: regions, servers: servers, count: count}, nil
}

// Regions returns the region tags in stable sorted order.
func (d *Directory) Regions() []string {
	out := make([]string, len(d.regions))
	copy(out, d.regions)
	return out
}

// HasRegion reports whether the directory knows the given region tag.
func (d *Directory) HasRegion(region string) bool {
	_, ok := d.servers[region]
	return ok
}

// ServersIn returns the servers of one region, nil for unknown regions.
func (d *Directory) ServersIn(region string) []Server {
	src, ok := d.servers[region]
	if !ok {
		return nil
	}
	out := make([]Server, len(src))
	copy(out, src)
	return out
}

// AddrsIn returns the addresses of one region.
func (d *Directory) AddrsIn(region string) []netip.Addr {
	src := d.servers[region]
	out := make([]netip.Addr, 0, len(src))
	for _, s := range src {
		out = append(out, s.Addr)
	}
	return out
}

// AllAddrs returns the union of all server addresses across regions.
func (d *Directory) AllAddrs() []netip.Addr {
	set := make(map[netip.Addr]struct{}, d.count)
	for _, servers := range d.servers {
		for _, s := range servers {
			set[addrKey(s.Addr)] = struct{}{}
		}
	}
	out := make([]netip.Addr, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Len returns the total number of servers (duplicates across regions counted).
func (d *Directory) Len() int { return d.count }

// addrKey normalizes IPv4-mapped IPv6 addresses so the same endpoint never
// appears twice in the union.
func addrKey(a netip.Addr) netip.Addr {
	return a.Unmap()
}
