package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"unicode"
	"time"

	"github.com/nextrouter/nextrouter/internal/netcalc"
)

// MaxUplinks is the number of WAN uplinks the marking scheme supports.
const MaxUplinks = 2

// ErrInvalidTopology wraps every topology validation failure.
var ErrInvalidTopology = errors.New("invalid topology")

// Validate checks a topology before any plan is derived from it. All problems
// are reported together.
func Validate(t Topology) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case len(t.WANs) == 0:
		add("at least one wan uplink is required")
	case len(t.WANs) > MaxUplinks:
		add("at most %d wan uplinks are supported, got %d", MaxUplinks, len(t.WANs))
	}

	names := make(map[string]bool)
	ifaces := make(map[string]string)
	sources := make(map[string]string)

	for i, wan := range t.WANs {
		label := wan.Name
		if label == "" {
			add("wan %d has no name", i)
			label = fmt.Sprintf("wan[%d]", i)
		} else if names[label] {
			add("duplicate wan name %q", label)
		}
		names[label] = true

		if err := checkIfName(wan.Interface); err != nil {
			add("wan %s: %v", label, err)
		} else if owner, ok := ifaces[wan.Interface]; ok {
			add("wan %s: interface %s already used by %s", label, wan.Interface, owner)
		} else {
			ifaces[wan.Interface] = label
		}

		if wan.Gateway != "" {
			gw, err := netip.ParseAddr(strings.TrimSpace(wan.Gateway))
			if err != nil || !gw.Is4() {
				add("wan %s: gateway %q is not an IPv4 address", label, wan.Gateway)
			}
		}

		for _, src := range wan.Sources {
			if _, err := netcalc.Parse(src); err != nil {
				add("wan %s: source %q: %v", label, src, err)
				continue
			}
			key := netcalc.NormalizePrefix(src)
			if key == "all" {
				add("wan %s: source %q would capture all traffic", label, src)
				continue
			}
			if owner, ok := sources[key]; ok {
				add("wan %s: source %s already pinned to %s", label, key, owner)
				continue
			}
			sources[key] = label
		}
	}

	if t.LAN == nil {
		add("lan is required")
	} else {
		problems = append(problems, validateLAN(*t.LAN, ifaces)...)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTopology, strings.Join(problems, "; "))
	}
	return nil
}

func validateLAN(lan LAN, wanIfaces map[string]string) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := checkIfName(lan.Interface); err != nil {
		add("lan: %v", err)
	} else if owner, ok := wanIfaces[lan.Interface]; ok {
		add("lan: interface %s already used by %s", lan.Interface, owner)
	}

	network, err := netcalc.Parse(lan.Address)
	if err != nil {
		add("lan: address %q: %v", lan.Address, err)
		return problems
	}
	if network.Bits() == 0 {
		add("lan: address %q covers the whole internet", lan.Address)
	}

	switch {
	case lan.DHCPStart != "" && lan.DHCPEnd != "":
		if _, err := netcalc.ParseRange(network, lan.DHCPStart, lan.DHCPEnd); err != nil {
			add("lan: %v", err)
		}
	case lan.DHCPStart != "" || lan.DHCPEnd != "":
		add("lan: dhcp_start and dhcp_end must be set together")
	}

	for _, dns := range lan.DNS {
		if _, err := netip.ParseAddr(strings.TrimSpace(dns)); err != nil {
			add("lan: dns server %q is not an address", dns)
		}
	}

	if lan.LeaseTime != "" && lan.LeaseTime != "infinite" {
		if d, err := time.ParseDuration(lan.LeaseTime); err != nil || d < time.Minute {
			add("lan: lease time %q must be a duration of at least 1m or infinite", lan.LeaseTime)
		}
	}

	return problems
}

func checkIfName(name string) error {
	switch {
	case name == "":
		return errors.New("interface name is empty")
	case len(name) > maxIfNameLen:
		return fmt.Errorf("interface name %q exceeds %d characters", name, maxIfNameLen)
	case name == "." || name == "..":
		return fmt.Errorf("interface name %q is reserved", name)
	case strings.ContainsAny(name, "/: \t\n\"\\"), strings.IndexFunc(name, unicode.IsControl) >= 0:
		return fmt.Errorf("interface name %q contains an invalid character", name)
	}
	return nil
}
