package iproute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/policy"
)

type exitErr struct{ code int }

func (e *exitErr) Error() string { return "exit status " + strconv.Itoa(e.code) }
func (e *exitErr) ExitCode() int { return e.code }

type kernelRule struct {
	prio int
	line string
}

// fakeKernel is an executor that keeps ip rule, ip route and sysctl state in
// memory and prints it back the way ip(8) does.
type fakeKernel struct {
	mu        sync.Mutex
	rules     []kernelRule
	routes    map[int][]string
	sysctls   map[string]string
	calls     []string
	mutations []string
	failOn    map[string]error
	// tableNames makes ip rule print lookup <name> like a host with
	// rt_tables entries.
	tableNames map[string]string
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		rules: []kernelRule{
			{prio: 0, line: "0:\tfrom all lookup local"},
			{prio: 32766, line: "32766:\tfrom all lookup main"},
			{prio: 32767, line: "32767:\tfrom all lookup default"},
		},
		routes:  make(map[int][]string),
		sysctls: make(map[string]string),
	}
}

func notFound() error {
	return &executor.CommandError{Command: "ip", Output: "RTNETLINK answers: No such file or directory", Err: &exitErr{code: 2}}
}

func (k *fakeKernel) Run(_ context.Context, command string, args ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	line := strings.TrimSpace(command + " " + strings.Join(args, " "))
	k.calls = append(k.calls, line)
	if err, ok := k.failOn[line]; ok {
		return err
	}
	k.mutations = append(k.mutations, line)

	switch {
	case command == "sysctl" && len(args) == 2 && args[0] == "-w":
		key, value, _ := strings.Cut(args[1], "=")
		k.sysctls[key] = value
		return nil
	case command == "ip" && len(args) >= 2 && args[0] == "rule":
		return k.rule(args[1], args[2:])
	case command == "ip" && len(args) >= 2 && args[0] == "route":
		return k.route(args[1], args[2:])
	}
	return fmt.Errorf("fake kernel: unsupported command %q", line)
}

func (k *fakeKernel) rule(verb string, args []string) error {
	kv := pairs(args)
	prio, _ := strconv.Atoi(kv["priority"])
	switch verb {
	case "add":
		line := fmt.Sprintf("%d:\tfrom %s", prio, kv["from"])
		if m, ok := kv["fwmark"]; ok {
			line += " fwmark " + m
		}
		table := kv["table"]
		if name, ok := k.tableNames[table]; ok {
			table = name
		}
		line += " lookup " + table
		k.rules = append(k.rules, kernelRule{prio: prio, line: line})
		sort.SliceStable(k.rules, func(i, j int) bool { return k.rules[i].prio < k.rules[j].prio })
		return nil
	case "del":
		for i, r := range k.rules {
			if r.prio == prio {
				k.rules = append(k.rules[:i], k.rules[i+1:]...)
				return nil
			}
		}
		return notFound()
	}
	return fmt.Errorf("fake kernel: unsupported rule verb %q", verb)
}

func (k *fakeKernel) route(verb string, args []string) error {
	if verb == "flush" {
		return nil
	}
	dest, rest := args[0], args[1:]
	if isRouteType(dest) {
		dest, rest = dest+" "+args[1], args[2:]
	}
	kv := pairs(rest)
	table, _ := strconv.Atoi(kv["table"])

	switch verb {
	case "replace":
		line := dest
		if gw, ok := kv["via"]; ok {
			line += " via " + gw
		}
		line += " dev " + kv["dev"]
		if _, ok := kv["via"]; !ok {
			line += " scope link"
		}
		k.removeRoute(table, dest, "")
		k.routes[table] = append(k.routes[table], line)
		return nil
	case "del":
		if k.removeRoute(table, dest, kv["metric"]) {
			return nil
		}
		return notFound()
	}
	return fmt.Errorf("fake kernel: unsupported route verb %q", verb)
}

func (k *fakeKernel) removeRoute(table int, dest, metric string) bool {
	for i, line := range k.routes[table] {
		if line != dest && !strings.HasPrefix(line, dest+" ") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, dest))
		if pairs(fields)["metric"] == metric {
			k.routes[table] = append(k.routes[table][:i], k.routes[table][i+1:]...)
			return true
		}
	}
	return false
}

func (k *fakeKernel) Output(_ context.Context, command string, args ...string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	line := strings.TrimSpace(command + " " + strings.Join(args, " "))
	k.calls = append(k.calls, line)
	if err, ok := k.failOn[line]; ok {
		return "", err
	}

	switch {
	case line == "ip -4 rule show":
		var b strings.Builder
		for _, r := range k.rules {
			b.WriteString(r.line + "\n")
		}
		return b.String(), nil
	case strings.HasPrefix(line, "ip -4 route show table "):
		table, _ := strconv.Atoi(args[len(args)-1])
		routes, ok := k.routes[table]
		if !ok {
			return "", &executor.CommandError{
				Command: command,
				Args:    args,
				Output:  "Error: ipv4: FIB table does not exist.\nDump terminated\n",
				Err:     &exitErr{code: 2},
			}
		}
		return strings.Join(routes, "\n"), nil
	case command == "sysctl" && len(args) == 2 && args[0] == "-n":
		v, ok := k.sysctls[args[1]]
		if !ok {
			return "", errors.New("unknown key")
		}
		return v + "\n", nil
	}
	return "", fmt.Errorf("fake kernel: unsupported query %q", line)
}

func (k *fakeKernel) RunWithInput(ctx context.Context, _ string, command string, args ...string) error {
	return k.Run(ctx, command, args...)
}

func (k *fakeKernel) resetCalls() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = nil
	k.mutations = nil
}

func pairs(args []string) map[string]string {
	out := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		out[args[i]] = args[i+1]
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlan() policy.Plan {
	plan, err := policy.Build(config.Topology{
		WANs: []config.Uplink{
			{Name: "wan0", Interface: "eth0", Gateway: "203.0.113.1"},
			{Name: "wan1", Interface: "eth1", Gateway: "198.51.100.1", Sources: []string{"192.168.10.50"}},
		},
		LAN: &config.LAN{Interface: "eth2", Address: "192.168.10.1/24"},
	})
	if err != nil {
		panic(err)
	}
	return plan
}
