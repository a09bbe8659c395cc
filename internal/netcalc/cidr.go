package netcalc

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidCIDR is returned when the input is neither an address nor a prefix.
	ErrInvalidCIDR = errors.New("invalid cidr")
	// ErrUnsupportedFamily is returned for non-IPv4 input.
	ErrUnsupportedFamily = errors.New("only IPv4 networks are supported")
)

// Network is the result of expanding an IPv4 CIDR string.
type Network struct {
	Address   netip.Addr   `yaml:"address"`
	Prefix    netip.Prefix `yaml:"prefix"`
	Netmask   netip.Addr   `yaml:"netmask"`
	Broadcast netip.Addr   `yaml:"broadcast"`
	Gateway   netip.Addr   `yaml:"gateway"`
	FirstHost netip.Addr   `yaml:"first_host"`
	LastHost  netip.Addr   `yaml:"last_host"`
	HostCount uint64       `yaml:"host_count"`
}

// Parse expands an IPv4 address with optional prefix length. A bare address
// is treated as a /32. The gateway is the given address when it is a usable
// host of the network, otherwise the first usable host.
func Parse(cidr string) (Network, error) {
	raw := strings.TrimSpace(cidr)
	if raw == "" {
		return Network{}, fmt.Errorf("%w: empty input", ErrInvalidCIDR)
	}
	if !strings.Contains(raw, "/") {
		raw += "/32"
	}

	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return Network{}, fmt.Errorf("%w %q: %v", ErrInvalidCIDR, cidr, err)
	}
	addr := prefix.Addr()
	if !addr.Is4() {
		return Network{}, fmt.Errorf("%w: %q", ErrUnsupportedFamily, cidr)
	}

	bits := prefix.Bits()
	mask := ^uint32(0) << (32 - bits)
	ip := toUint32(addr)
	network := ip & mask
	broadcast := network | ^mask

	var first, last uint32
	var count uint64
	switch bits {
	case 32:
		first, last, count = network, network, 1
	case 31:
		first, last, count = network, broadcast, 2
	default:
		first, last = network+1, broadcast-1
		count = uint64(broadcast-network) - 1
	}

	gateway := fromUint32(first)
	if ip >= first && ip <= last {
		gateway = addr
	}

	return Network{
		Address:   addr,
		Prefix:    prefix.Masked(),
		Netmask:   fromUint32(mask),
		Broadcast: fromUint32(broadcast),
		Gateway:   gateway,
		FirstHost: fromUint32(first),
		LastHost:  fromUint32(last),
		HostCount: count,
	}, nil
}

// MustParse is Parse for package-level constants and tests.
func MustParse(cidr string) Network {
	n, err := Parse(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

// CIDR returns the masked prefix, e.g. 192.168.10.0/24.
func (n Network) CIDR() string {
	return n.Prefix.String()
}

// Bits returns the prefix length.
func (n Network) Bits() int {
	return n.Prefix.Bits()
}

// Contains reports whether ip belongs to the network.
func (n Network) Contains(ip netip.Addr) bool {
	return n.Prefix.Contains(ip)
}

// IsHost reports whether ip is a usable host address of the network.
func (n Network) IsHost(ip netip.Addr) bool {
	if !ip.Is4() || !n.Contains(ip) {
		return false
	}
	v := toUint32(ip)
	return v >= toUint32(n.FirstHost) && v <= toUint32(n.LastHost)
}

// Nth returns the address at offset from the network address.
func (n Network) Nth(offset uint32) (netip.Addr, error) {
	base := toUint32(n.Prefix.Addr())
	last := toUint32(n.Broadcast)
	if offset > last-base {
		return netip.Addr{}, fmt.Errorf("offset %d outside %s", offset, n.CIDR())
	}
	return fromUint32(base + offset), nil
}

// NormalizePrefix returns the canonical form used when comparing selectors
// printed by ip(8): host prefixes lose their /32, networks are masked.
func NormalizePrefix(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" || raw == "all" {
		return "all"
	}
	if !strings.Contains(raw, "/") {
		if addr, err := netip.ParseAddr(raw); err == nil {
			return addr.String()
		}
		return raw
	}
	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return raw
	}
	if prefix.IsSingleIP() {
		return prefix.Addr().String()
	}
	if prefix.Bits() == 0 {
		return "all"
	}
	return prefix.Masked().String()
}

func toUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func fromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
