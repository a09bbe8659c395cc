//go:build linux

package iproute

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nextrouter/nextrouter/internal/netcalc"
	"github.com/nextrouter/nextrouter/internal/policy"
)

// NetlinkInspector reads rules and routes over rtnetlink instead of parsing
// ip(8) output.
type NetlinkInspector struct{}

// NewNetlinkInspector returns an inspector that talks to the kernel directly.
func NewNetlinkInspector() (*NetlinkInspector, error) {
	return &NetlinkInspector{}, nil
}

// Rules lists every IPv4 rule.
func (n *NetlinkInspector) Rules(ctx context.Context) ([]KernelRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules, err := netlink.RuleList(netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	out := make([]KernelRule, 0, len(rules))
	for _, r := range rules {
		kr := KernelRule{Rule: policy.Rule{
			Priority: r.Priority,
			Mark:     int(r.Mark),
			From:     prefixString(r.Src),
			Table:    r.Table,
		}}
		if r.Mask != nil {
			kr.Extra = append(kr.Extra, maskExtra(*r.Mask)...)
		}
		if r.Dst != nil {
			kr.Extra = append(kr.Extra, "to", r.Dst.String())
		}
		if r.IifName != "" {
			kr.Extra = append(kr.Extra, "iif", r.IifName)
		}
		if r.OifName != "" {
			kr.Extra = append(kr.Extra, "oif", r.OifName)
		}
		if r.Invert {
			kr.Extra = append(kr.Extra, "not")
		}
		if r.Goto > 0 {
			kr.Extra = append(kr.Extra, "goto", strconv.Itoa(r.Goto))
		}
		out = append(out, kr)
	}
	return out, nil
}

// Routes lists the IPv4 routes of one table.
func (n *NetlinkInspector) Routes(ctx context.Context, table int) ([]KernelRoute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Table: table}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return nil, fmt.Errorf("list routes in table %d: %w", table, err)
	}

	names := make(map[int]string)
	out := make([]KernelRoute, 0, len(routes))
	for _, r := range routes {
		kr := KernelRoute{
			Table:       table,
			Destination: prefixString(r.Dst),
			Metric:      r.Priority,
		}
		if kr.Destination == "all" {
			kr.Destination = "default"
		}
		if r.Type != unix.RTN_UNICAST {
			kr.Type = routeTypeName(r.Type)
		}
		if r.Gw != nil {
			kr.Gateway = r.Gw.String()
		}
		if r.LinkIndex > 0 {
			name, ok := names[r.LinkIndex]
			if !ok {
				if link, err := netlink.LinkByIndex(r.LinkIndex); err == nil {
					name = link.Attrs().Name
				} else {
					name = "if" + strconv.Itoa(r.LinkIndex)
				}
				names[r.LinkIndex] = name
			}
			kr.Device = name
		}
		out = append(out, kr)
	}
	return out, nil
}

func prefixString(n *net.IPNet) string {
	if n == nil {
		return "all"
	}
	return netcalc.NormalizePrefix(n.String())
}

func routeTypeName(t int) string {
	switch t {
	case unix.RTN_UNREACHABLE:
		return "unreachable"
	case unix.RTN_BLACKHOLE:
		return "blackhole"
	case unix.RTN_PROHIBIT:
		return "prohibit"
	case unix.RTN_THROW:
		return "throw"
	case unix.RTN_LOCAL:
		return "local"
	case unix.RTN_BROADCAST:
		return "broadcast"
	case unix.RTN_MULTICAST:
		return "multicast"
	case unix.RTN_ANYCAST:
		return "anycast"
	case unix.RTN_NAT:
		return "nat"
	default:
		return "type" + strconv.Itoa(t)
	}
}
