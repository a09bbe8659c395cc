package netcalc

import "net/netip"

// Class describes where an address is routable.
type Class string

const (
	ClassUnspecified Class = "unspecified"
	ClassLoopback    Class = "loopback"
	ClassPrivate     Class = "private"
	ClassLinkLocal   Class = "link-local"
	ClassMulticast   Class = "multicast"
	ClassCGNAT       Class = "cgnat"
	ClassReserved    Class = "reserved"
	ClassPublic      Class = "public"
)

var (
	cgnatPrefix      = netip.MustParsePrefix("100.64.0.0/10")
	thisNetPrefix    = netip.MustParsePrefix("0.0.0.0/8")
	reservedPrefix   = netip.MustParsePrefix("240.0.0.0/4")
	uniqueLocalPfx   = netip.MustParsePrefix("fc00::/7")
	documentPrefixes = []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("203.0.113.0/24"),
	}
)

// Classify returns the class of ip. Documentation ranges count as reserved.
func Classify(ip netip.Addr) Class {
	ip = ip.Unmap()
	switch {
	case !ip.IsValid(), ip.IsUnspecified():
		return ClassUnspecified
	case ip.IsLoopback():
		return ClassLoopback
	case ip.IsPrivate(), uniqueLocalPfx.Contains(ip):
		return ClassPrivate
	case ip.IsLinkLocalUnicast():
		return ClassLinkLocal
	case ip.IsMulticast():
		return ClassMulticast
	case cgnatPrefix.Contains(ip):
		return ClassCGNAT
	case thisNetPrefix.Contains(ip), reservedPrefix.Contains(ip):
		return ClassReserved
	}
	for _, p := range documentPrefixes {
		if p.Contains(ip) {
			return ClassReserved
		}
	}
	return ClassPublic
}

// IsLocal reports whether ip never leaves the site through a WAN uplink.
func IsLocal(ip netip.Addr) bool {
	return Classify(ip) != ClassPublic
}

// SameSubnet reports whether a and b share the first bits of their address.
func SameSubnet(a, b netip.Addr, bits int) bool {
	if a.BitLen() != b.BitLen() || bits < 0 || bits > a.BitLen() {
		return false
	}
	pa, err := a.Prefix(bits)
	if err != nil {
		return false
	}
	return pa.Contains(b)
}
