package netcalc

import (
	"fmt"
	"net/netip"
)

// Range is an inclusive span of host addresses handed out by a DHCP server.
type Range struct {
	Start netip.Addr `yaml:"start"`
	End   netip.Addr `yaml:"end"`
}

// Size returns the number of addresses in the range.
func (r Range) Size() uint64 {
	return uint64(toUint32(r.End)-toUint32(r.Start)) + 1
}

// DefaultDHCPRange hands out the upper half of the usable hosts, keeping the
// gateway outside the pool.
func DefaultDHCPRange(n Network) (Range, error) {
	if n.HostCount < 2 {
		return Range{}, fmt.Errorf("network %s has no room for a dhcp pool", n.CIDR())
	}

	first := toUint32(n.FirstHost)
	start := first + uint32(n.HostCount/2)
	end := toUint32(n.LastHost)

	if n.Gateway.IsValid() {
		gw := toUint32(n.Gateway)
		switch {
		case gw == start:
			start++
		case gw == end:
			end--
		case gw > start && gw < end:
			start = gw + 1
		}
	}
	if start > end {
		return Range{}, fmt.Errorf("network %s has no room for a dhcp pool beside gateway %s", n.CIDR(), n.Gateway)
	}

	return Range{Start: fromUint32(start), End: fromUint32(end)}, nil
}

// ParseRange validates an explicit pool against the network it serves.
func ParseRange(n Network, start, end string) (Range, error) {
	s, err := netip.ParseAddr(start)
	if err != nil {
		return Range{}, fmt.Errorf("dhcp range start %q: %w", start, err)
	}
	e, err := netip.ParseAddr(end)
	if err != nil {
		return Range{}, fmt.Errorf("dhcp range end %q: %w", end, err)
	}
	if !n.IsHost(s) {
		return Range{}, fmt.Errorf("dhcp range start %s is not a host of %s", s, n.CIDR())
	}
	if !n.IsHost(e) {
		return Range{}, fmt.Errorf("dhcp range end %s is not a host of %s", e, n.CIDR())
	}
	if toUint32(s) > toUint32(e) {
		return Range{}, fmt.Errorf("dhcp range start %s is after end %s", s, e)
	}
	if n.Gateway.IsValid() {
		gw := toUint32(n.Gateway)
		if gw >= toUint32(s) && gw <= toUint32(e) {
			return Range{}, fmt.Errorf("dhcp range %s-%s contains gateway %s", s, e, n.Gateway)
		}
	}
	return Range{Start: s, End: e}, nil
}
