package policy

import (
	"fmt"
	"strconv"

	"github.com/nextrouter/nextrouter/internal/netcalc"
)

// Priority layout of the rules nextrouter installs. Everything inside
// [PriorityMin, PriorityMax] belongs to nextrouter and is pruned when the plan
// does not name it.
const (
	FwmarkPriorityBase = 1000
	SourcePriorityBase = 2000
	PriorityMin        = 1000
	PriorityMax        = 2999
)

// PlannedUplink is a WAN with its mark and routing table assigned.
type PlannedUplink struct {
	Name      string   `yaml:"name"`
	Interface string   `yaml:"interface"`
	Gateway   string   `yaml:"gateway,omitempty"`
	Mark      int      `yaml:"mark"`
	Table     int      `yaml:"table"`
	Sources   []string `yaml:"sources,omitempty"`
}

// MarkHex renders the mark the way nft and ip rule print it.
func (u PlannedUplink) MarkHex() string {
	return FormatMark(u.Mark)
}

// Route is one entry of an uplink routing table.
type Route struct {
	Table       int    `yaml:"table"`
	Destination string `yaml:"destination"`
	Gateway     string `yaml:"gateway,omitempty"`
	Device      string `yaml:"device"`
}

// Args returns the ip route selector for the route, without the verb.
func (r Route) Args() []string {
	args := []string{r.Destination}
	if r.Gateway != "" {
		args = append(args, "via", r.Gateway)
	}
	args = append(args, "dev", r.Device, "table", strconv.Itoa(r.Table))
	return args
}

// Key identifies a route inside its table.
func (r Route) Key() string {
	return fmt.Sprintf("%d/%s", r.Table, netcalc.NormalizePrefix(r.Destination))
}

func (r Route) String() string {
	s := fmt.Sprintf("table %d %s", r.Table, r.Destination)
	if r.Gateway != "" {
		s += " via " + r.Gateway
	}
	return s + " dev " + r.Device
}

// Rule is one ip rule. Exactly one of Mark and From selects traffic; From is
// "all" for fwmark rules.
type Rule struct {
	Priority int    `yaml:"priority"`
	Mark     int    `yaml:"mark,omitempty"`
	From     string `yaml:"from"`
	Table    int    `yaml:"table"`
}

// Args returns the ip rule selector for the rule, without the verb.
func (r Rule) Args() []string {
	args := []string{"priority", strconv.Itoa(r.Priority), "from", r.From}
	if r.Mark != 0 {
		args = append(args, "fwmark", FormatMark(r.Mark))
	}
	return append(args, "table", strconv.Itoa(r.Table))
}

// Equal compares rules after normalising the source selector.
func (r Rule) Equal(o Rule) bool {
	return r.Priority == o.Priority &&
		r.Mark == o.Mark &&
		r.Table == o.Table &&
		netcalc.NormalizePrefix(r.From) == netcalc.NormalizePrefix(o.From)
}

func (r Rule) String() string {
	s := fmt.Sprintf("%d: from %s", r.Priority, netcalc.NormalizePrefix(r.From))
	if r.Mark != 0 {
		s += " fwmark " + FormatMark(r.Mark)
	}
	return fmt.Sprintf("%s lookup %d", s, r.Table)
}

// Owned reports whether a rule priority falls in the range nextrouter manages.
func Owned(priority int) bool {
	return priority >= PriorityMin && priority <= PriorityMax
}

// FormatMark renders a mark as lowercase hex with a 0x prefix.
func FormatMark(mark int) string {
	return fmt.Sprintf("0x%x", mark)
}

// ParseMark accepts the decimal and hex spellings ip(8) and nft print.
func ParseMark(s string) (int, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mark %q: %w", s, err)
	}
	return int(v), nil
}
