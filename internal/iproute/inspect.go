package iproute

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/netcalc"
	"github.com/nextrouter/nextrouter/internal/policy"
)

// Well known routing table ids printed by name.
const (
	TableDefault = 253
	TableMain    = 254
	TableLocal   = 255
)

// Inspector reads the kernel's current IPv4 policy routing state.
type Inspector interface {
	Rules(ctx context.Context) ([]KernelRule, error)
	Routes(ctx context.Context, table int) ([]KernelRoute, error)
}

// KernelRule is a rule as installed in the kernel. Extra holds selectors
// nextrouter never installs (iif, to, not, ...); a rule with extras never
// matches a planned rule.
type KernelRule struct {
	policy.Rule
	Extra []string
}

// Matches reports whether k is exactly the planned rule r.
func (k KernelRule) Matches(r policy.Rule) bool {
	return len(k.Extra) == 0 && k.Rule.Equal(r)
}

func (k KernelRule) String() string {
	if len(k.Extra) == 0 {
		return k.Rule.String()
	}
	return k.Rule.String() + " " + strings.Join(k.Extra, " ")
}

// KernelRoute is a route read back from a table. Type is empty for unicast.
type KernelRoute struct {
	Type        string
	Table       int
	Destination string
	Gateway     string
	Device      string
	Metric      int
}

// Matches reports whether k is the planned route r.
func (k KernelRoute) Matches(r policy.Route) bool {
	return k.Type == "" &&
		k.Metric == 0 &&
		k.Table == r.Table &&
		netcalc.NormalizePrefix(k.Destination) == netcalc.NormalizePrefix(r.Destination) &&
		k.Gateway == r.Gateway &&
		k.Device == r.Device
}

// DeleteArgs returns the ip route del selector for k.
func (k KernelRoute) DeleteArgs() []string {
	var args []string
	if k.Type != "" {
		args = append(args, k.Type)
	}
	args = append(args, k.Destination, "table", strconv.Itoa(k.Table))
	if k.Metric != 0 {
		args = append(args, "metric", strconv.Itoa(k.Metric))
	}
	return args
}

func (k KernelRoute) String() string {
	s := fmt.Sprintf("table %d ", k.Table)
	if k.Type != "" {
		s += k.Type + " "
	}
	s += k.Destination
	if k.Gateway != "" {
		s += " via " + k.Gateway
	}
	if k.Device != "" {
		s += " dev " + k.Device
	}
	if k.Metric != 0 {
		s += " metric " + strconv.Itoa(k.Metric)
	}
	return s
}

// CommandInspector reads state by parsing ip(8) output.
type CommandInspector struct {
	Exec executor.Executor
	// TableDirs are searched for rt_tables files so that named tables
	// printed by ip(8) resolve to their ids. Later directories win.
	TableDirs []string
}

// NewCommandInspector constructs an inspector backed by exec.
func NewCommandInspector(exec executor.Executor) *CommandInspector {
	return &CommandInspector{Exec: exec, TableDirs: DefaultTableDirs}
}

// Rules lists every IPv4 rule.
func (c *CommandInspector) Rules(ctx context.Context) ([]KernelRule, error) {
	names, err := LoadTableNames(c.TableDirs...)
	if err != nil {
		return nil, err
	}
	out, err := c.Exec.Output(ctx, "ip", "-4", "rule", "show")
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return ParseRules(out, names)
}

// Routes lists the IPv4 routes of one table. A table that was never
// populated reads as empty.
func (c *CommandInspector) Routes(ctx context.Context, table int) ([]KernelRoute, error) {
	out, err := c.Exec.Output(ctx, "ip", "-4", "route", "show", "table", strconv.Itoa(table))
	if err != nil {
		if executor.IsNotFound(err) || isMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list routes in table %d: %w", table, err)
	}
	return ParseRoutes(out, table)
}

// isMissingTable matches the dump error ip(8) prints for a table id the
// kernel has never seen.
func isMissingTable(err error) bool {
	var cmdErr *executor.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Output), "fib table does not exist")
}

// ParseRules parses `ip rule show` output, e.g.
//
//	1000:	from all fwmark 0x1 lookup 1
//
// names resolves tables ip(8) printed by name; it may be nil.
func ParseRules(out string, names TableNames) ([]KernelRule, error) {
	var rules []KernelRule
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rule, err := parseRuleLine(line, names)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	return rules, nil
}

func parseRuleLine(line string, names TableNames) (KernelRule, error) {
	fields := strings.Fields(line)
	prio, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
	if err != nil || !strings.HasSuffix(fields[0], ":") {
		return KernelRule{}, fmt.Errorf("unexpected rule line %q", line)
	}

	rule := KernelRule{Rule: policy.Rule{Priority: prio, From: "all"}}
	for i := 1; i < len(fields); i++ {
		key := fields[i]
		value := ""
		if i+1 < len(fields) {
			value = fields[i+1]
		}

		switch key {
		case "from":
			rule.From = netcalc.NormalizePrefix(value)
			i++
		case "fwmark":
			mark, mask, _ := strings.Cut(value, "/")
			m, err := policy.ParseMark(mark)
			if err != nil {
				return KernelRule{}, fmt.Errorf("rule %q: %w", line, err)
			}
			rule.Mark = m
			if mask != "" {
				bits, err := strconv.ParseUint(mask, 0, 32)
				if err != nil {
					return KernelRule{}, fmt.Errorf("rule %q: invalid mask %q", line, mask)
				}
				rule.Extra = append(rule.Extra, maskExtra(uint32(bits))...)
			}
			i++
		case "lookup", "table":
			table, ok := names.ID(value)
			if !ok {
				rule.Extra = append(rule.Extra, key, value)
			}
			rule.Table = table
			i++
		case "proto":
			i++
		case "not", "blackhole", "unreachable", "prohibit", "l3mdev", "[detached]", "[linkdown]":
			rule.Extra = append(rule.Extra, key)
		default:
			rule.Extra = append(rule.Extra, key, value)
			i++
		}
	}
	return rule, nil
}

func isRouteType(s string) bool {
	switch s {
	case "unreachable", "blackhole", "prohibit", "throw", "local", "broadcast", "multicast", "anycast", "nat":
		return true
	}
	return false
}

func isRouteFlag(s string) bool {
	switch s {
	case "onlink", "linkdown", "dead", "pervasive", "offload", "notify", "rt_offload", "rt_trap":
		return true
	}
	return false
}

// ParseRoutes parses `ip route show table N` output, e.g.
//
//	default via 203.0.113.1 dev eth0
//	192.168.10.0/24 dev eth2 scope link
func ParseRoutes(out string, table int) ([]KernelRoute, error) {
	var routes []KernelRoute
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		route := KernelRoute{Table: table}
		if isRouteType(fields[0]) {
			route.Type = fields[0]
			fields = fields[1:]
			if len(fields) == 0 {
				return nil, fmt.Errorf("route of type %s has no destination", route.Type)
			}
		}
		route.Destination = netcalc.NormalizePrefix(fields[0])

		for i := 1; i < len(fields); i++ {
			key := fields[i]
			if isRouteFlag(key) {
				continue
			}
			if i+1 >= len(fields) {
				break
			}
			switch key {
			case "via":
				route.Gateway = fields[i+1]
			case "dev":
				route.Device = fields[i+1]
			case "metric":
				metric, err := strconv.Atoi(fields[i+1])
				if err != nil {
					return nil, fmt.Errorf("route %q: invalid metric: %w", scanner.Text(), err)
				}
				route.Metric = metric
			}
			i++
		}
		routes = append(routes, route)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan routes: %w", err)
	}
	return routes, nil
}

// maskExtra records a fwmark mask other than the full one planned rules use.
func maskExtra(mask uint32) []string {
	if mask == 0xffffffff {
		return nil
	}
	return []string{"mask", fmt.Sprintf("%#x", mask)}
}
