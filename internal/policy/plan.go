package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/netcalc"
)

// Plan is the complete routing state derived from a topology. Building a plan
// twice from the same topology yields identical plans.
type Plan struct {
	Uplinks      []PlannedUplink `yaml:"uplinks"`
	Routes       []Route         `yaml:"routes"`
	Rules        []Rule          `yaml:"rules"`
	LAN          netcalc.Network `yaml:"lan"`
	LANInterface string          `yaml:"lan_interface"`
	DHCP         *netcalc.Range  `yaml:"dhcp,omitempty"`
	DNS          []string        `yaml:"dns,omitempty"`
	Domain       string          `yaml:"domain,omitempty"`
	LeaseTime    string          `yaml:"lease_time,omitempty"`
}

// Build validates the topology and assigns mark i+1 and table i+1 to the
// uplink at index i.
func Build(topo config.Topology) (Plan, error) {
	if err := config.Validate(topo); err != nil {
		return Plan{}, err
	}

	lan, err := netcalc.Parse(topo.LAN.Address)
	if err != nil {
		return Plan{}, fmt.Errorf("lan address: %w", err)
	}

	plan := Plan{
		LAN:          lan,
		LANInterface: topo.LAN.Interface,
		DNS:          append([]string(nil), topo.LAN.DNS...),
		Domain:       topo.LAN.Domain,
		LeaseTime:    topo.LAN.LeaseTime,
	}

	if topo.LAN.DHCPStart != "" {
		r, err := netcalc.ParseRange(lan, topo.LAN.DHCPStart, topo.LAN.DHCPEnd)
		if err != nil {
			return Plan{}, fmt.Errorf("lan dhcp range: %w", err)
		}
		plan.DHCP = &r
	} else if r, err := netcalc.DefaultDHCPRange(lan); err == nil {
		plan.DHCP = &r
	}

	sourcePriority := SourcePriorityBase
	for i, wan := range topo.WANs {
		id := i + 1
		uplink := PlannedUplink{
			Name:      wan.Name,
			Interface: wan.Interface,
			Gateway:   strings.TrimSpace(wan.Gateway),
			Mark:      id,
			Table:     id,
		}
		for _, src := range wan.Sources {
			uplink.Sources = append(uplink.Sources, netcalc.NormalizePrefix(src))
		}
		plan.Uplinks = append(plan.Uplinks, uplink)

		plan.Routes = append(plan.Routes,
			Route{Table: id, Destination: "default", Gateway: uplink.Gateway, Device: uplink.Interface},
			Route{Table: id, Destination: lan.CIDR(), Device: topo.LAN.Interface},
		)
		plan.Rules = append(plan.Rules, Rule{
			Priority: FwmarkPriorityBase + i,
			Mark:     uplink.Mark,
			From:     "all",
			Table:    uplink.Table,
		})
	}

	// Source rules sit below every fwmark rule: an existing mark wins.
	for _, uplink := range plan.Uplinks {
		for _, src := range uplink.Sources {
			plan.Rules = append(plan.Rules, Rule{
				Priority: sourcePriority,
				From:     src,
				Table:    uplink.Table,
			})
			sourcePriority++
		}
	}

	return plan, nil
}

// TableForMark returns the routing table selected by a packet mark.
func (p Plan) TableForMark(mark int) (int, bool) {
	for _, u := range p.Uplinks {
		if u.Mark == mark {
			return u.Table, true
		}
	}
	return 0, false
}

// Uplink looks up a planned uplink by name.
func (p Plan) Uplink(name string) (PlannedUplink, bool) {
	for _, u := range p.Uplinks {
		if u.Name == name {
			return u, true
		}
	}
	return PlannedUplink{}, false
}

// Tables returns the routing table ids the plan owns, in uplink order.
func (p Plan) Tables() []int {
	tables := make([]int, 0, len(p.Uplinks))
	for _, u := range p.Uplinks {
		tables = append(tables, u.Table)
	}
	return tables
}

// OwnsTable reports whether id is one of the plan's uplink tables.
func (p Plan) OwnsTable(id int) bool {
	for _, t := range p.Tables() {
		if t == id {
			return true
		}
	}
	return false
}

// RoutesForTable returns the planned routes of one table.
func (p Plan) RoutesForTable(table int) []Route {
	var out []Route
	for _, r := range p.Routes {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

// WANInterfaces lists uplink interfaces in plan order.
func (p Plan) WANInterfaces() []string {
	out := make([]string, 0, len(p.Uplinks))
	for _, u := range p.Uplinks {
		out = append(out, u.Interface)
	}
	return out
}

// Commands returns the ip invocations that converge an empty kernel to the
// plan, in application order: routes, fwmark rules, source rules, cache flush.
func (p Plan) Commands() [][]string {
	var cmds [][]string
	for _, r := range p.Routes {
		cmds = append(cmds, append([]string{"ip", "route", "replace"}, r.Args()...))
	}
	for _, r := range p.Rules {
		if r.Mark != 0 {
			cmds = append(cmds, append([]string{"ip", "rule", "add"}, r.Args()...))
		}
	}
	for _, r := range p.Rules {
		if r.Mark == 0 {
			cmds = append(cmds, append([]string{"ip", "rule", "add"}, r.Args()...))
		}
	}
	return append(cmds, []string{"ip", "route", "flush", "cache"})
}

// RuleMap renders the audit file body: one "priority selector table" line
// per rule.
func (p Plan) RuleMap() string {
	var b strings.Builder
	for _, r := range p.Rules {
		selector := "from=" + netcalc.NormalizePrefix(r.From)
		if r.Mark != 0 {
			selector = "fwmark=" + FormatMark(r.Mark)
		}
		b.WriteString(strconv.Itoa(r.Priority))
		b.WriteByte(' ')
		b.WriteString(selector)
		b.WriteString(" table=")
		b.WriteString(strconv.Itoa(r.Table))
		b.WriteByte('\n')
	}
	return b.String()
}
