package iproute

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/policy"
)

func TestApplyFromEmptyKernel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	plan := testPlan()

	changes, err := Apply(ctx, k, NewCommandInspector(k), plan, Options{}, discardLogger())
	require.NoError(t, err)
	assert.True(t, changes.Mutated())

	assert.Equal(t, []string{
		"sysctl -w net.ipv4.ip_forward=1",
		"sysctl -w net.ipv4.conf.all.rp_filter=2",
		"sysctl -w net.ipv4.conf.eth0.rp_filter=2",
		"sysctl -w net.ipv4.conf.eth1.rp_filter=2",
		"ip route replace default via 203.0.113.1 dev eth0 table 1",
		"ip route replace 192.168.10.0/24 dev eth2 table 1",
		"ip route replace default via 198.51.100.1 dev eth1 table 2",
		"ip route replace 192.168.10.0/24 dev eth2 table 2",
		"ip rule add priority 1000 from all fwmark 0x1 table 1",
		"ip rule add priority 1001 from all fwmark 0x2 table 2",
		"ip rule add priority 2000 from 192.168.10.50 table 2",
		"ip route flush cache",
	}, k.mutations)
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	insp := NewCommandInspector(k)
	plan := testPlan()

	_, err := Apply(ctx, k, insp, plan, Options{}, discardLogger())
	require.NoError(t, err)

	k.resetCalls()
	changes, err := Apply(ctx, k, insp, plan, Options{}, discardLogger())
	require.NoError(t, err)

	assert.False(t, changes.Mutated())
	assert.Empty(t, k.mutations, "second pass must not mutate the kernel")
	assert.Equal(t, 4+4+3, changes.Unchanged)

	report, err := Verify(ctx, insp, plan)
	require.NoError(t, err)
	assert.False(t, report.Drift(), "unexpected drift: %v", report.Lines())
}

func TestApplyIsIdempotentWithNamedTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rt_tables"), []byte("1\twan0\n2\twan1\n"), 0o644))

	ctx := context.Background()
	k := newFakeKernel()
	k.tableNames = map[string]string{"1": "wan0", "2": "wan1"}
	insp := &CommandInspector{Exec: k, TableDirs: []string{dir}}
	plan := testPlan()

	_, err := Apply(ctx, k, insp, plan, Options{}, discardLogger())
	require.NoError(t, err)

	k.resetCalls()
	changes, err := Apply(ctx, k, insp, plan, Options{}, discardLogger())
	require.NoError(t, err)
	assert.False(t, changes.Mutated())
	assert.Empty(t, k.mutations, "named tables must match their planned ids")
}

func TestEnsureRulesReplacesConflictsAndPrunesStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	k.rules = append(k.rules,
		kernelRule{prio: 100, line: "100:\tfrom all iif wg0 lookup 200"},
		kernelRule{prio: 1000, line: "1000:\tfrom all fwmark 0x1 lookup 1"},
		kernelRule{prio: 1001, line: "1001:\tfrom all fwmark 0x2 lookup 1"},
		kernelRule{prio: 2000, line: "2000:\tfrom 192.168.10.50 lookup 2"},
		kernelRule{prio: 2000, line: "2000:\tfrom 192.168.10.50 lookup 2"},
		kernelRule{prio: 2005, line: "2005:\tfrom 192.168.10.77 lookup 1"},
		kernelRule{prio: 3000, line: "3000:\tfrom 10.0.0.0/8 lookup main"},
	)

	changes, err := EnsureRules(ctx, k, NewCommandInspector(k), testPlan(), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ip rule del priority 1001",
		"ip rule add priority 1001 from all fwmark 0x2 table 2",
		"ip rule del priority 2000",
		"ip rule del priority 2000",
		"ip rule add priority 2000 from 192.168.10.50 table 2",
		"ip rule del priority 2005",
	}, k.mutations)
	assert.Equal(t, Changes{Added: 2, Deleted: 4, Unchanged: 1}, changes)

	rules, err := NewCommandInspector(k).Rules(ctx)
	require.NoError(t, err)
	var prios []int
	for _, r := range rules {
		prios = append(prios, r.Priority)
	}
	assert.Equal(t, []int{0, 100, 1000, 1001, 2000, 3000, 32766, 32767}, prios)
}

func TestEnsureRulesToleratesVanishedRule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	k.rules = append(k.rules, kernelRule{prio: 1500, line: "1500:\tfrom all lookup 9"})
	k.failOn = map[string]error{"ip rule del priority 1500": notFound()}

	_, err := EnsureRules(ctx, k, NewCommandInspector(k), testPlan(), discardLogger())
	require.NoError(t, err)
}

func TestEnsureRulesPropagatesFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	denied := &executor.CommandError{Command: "ip", Output: "RTNETLINK answers: Operation not permitted", Err: &exitErr{code: 2}}
	k.failOn = map[string]error{"ip rule add priority 1000 from all fwmark 0x1 table 1": denied}

	_, err := EnsureRules(ctx, k, NewCommandInspector(k), testPlan(), discardLogger())
	require.Error(t, err)

	var cmdErr *executor.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, err.Error(), "Operation not permitted")
}

func TestEnsureRoutesPrunesStaleRoutes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	k.routes[1] = []string{
		"default via 203.0.113.254 dev eth0",
		"10.50.0.0/16 via 203.0.113.1 dev eth0",
		"unreachable 10.99.0.0/16",
		"default via 203.0.113.1 dev eth0 metric 50",
	}
	k.routes[2] = []string{
		"default via 198.51.100.1 dev eth1",
		"192.168.10.0/24 dev eth2 scope link",
	}
	k.routes[254] = []string{"default via 192.0.2.1 dev eth0"}

	changes, err := EnsureRoutes(ctx, k, NewCommandInspector(k), testPlan(), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ip route replace default via 203.0.113.1 dev eth0 table 1",
		"ip route replace 192.168.10.0/24 dev eth2 table 1",
		"ip route del 10.50.0.0/16 table 1",
		"ip route del unreachable 10.99.0.0/16 table 1",
		"ip route del default table 1 metric 50",
	}, k.mutations)
	assert.Equal(t, Changes{Added: 2, Deleted: 3, Unchanged: 2}, changes)
	assert.Equal(t, []string{"default via 192.0.2.1 dev eth0"}, k.routes[254], "main table must not be touched")
}

func TestApplySysctlsSkipsCurrentValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	k.sysctls["net.ipv4.ip_forward"] = "1"
	k.sysctls["net.ipv4.conf.all.rp_filter"] = "1"

	changes, err := ApplySysctls(ctx, k, []string{"eth0", "eth0.100"}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"sysctl -w net.ipv4.conf.all.rp_filter=2",
		"sysctl -w net.ipv4.conf.eth0.rp_filter=2",
		"sysctl -w net/ipv4/conf/eth0.100/rp_filter=2",
	}, k.mutations)
	assert.Equal(t, 1, changes.Unchanged)
}

func TestVerifyReportsDrift(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newFakeKernel()
	plan := testPlan()
	insp := NewCommandInspector(k)

	_, err := Apply(ctx, k, insp, plan, Options{SkipSysctls: true}, discardLogger())
	require.NoError(t, err)

	k.rules = append(k.rules, kernelRule{prio: 2999, line: "2999:\tfrom 192.168.10.9 lookup 2"})
	for i, r := range k.rules {
		if r.prio == 1001 {
			k.rules = append(k.rules[:i], k.rules[i+1:]...)
			break
		}
	}
	k.routes[2] = k.routes[2][1:]

	report, err := Verify(ctx, insp, plan)
	require.NoError(t, err)
	require.True(t, report.Drift())

	assert.Equal(t, []policy.Rule{{Priority: 1001, Mark: 2, From: "all", Table: 2}}, report.MissingRules)
	require.Len(t, report.UnexpectedRules, 1)
	assert.Equal(t, 2999, report.UnexpectedRules[0].Priority)
	assert.Equal(t, []policy.Route{{Table: 2, Destination: "default", Gateway: "198.51.100.1", Device: "eth1"}}, report.MissingRoutes)
	assert.Empty(t, report.UnexpectedRoutes)

	assert.Equal(t, []string{
		"+ rule 1001: from all fwmark 0x2 lookup 2",
		"- rule 2999: from 192.168.10.9 lookup 2",
		"+ route table 2 default via 198.51.100.1 dev eth1",
	}, report.Lines())
}

func TestWriteRuleMap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state", "rules.map")

	require.NoError(t, WriteRuleMap(path, testPlan(), discardLogger()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ruleMapHeader+
		"1000 fwmark=0x1 table=1\n"+
		"1001 fwmark=0x2 table=2\n"+
		"2000 from=192.168.10.50 table=2\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	assert.NoError(t, WriteRuleMap("", testPlan(), discardLogger()))
	assert.ErrorContains(t, WriteRuleMap(dir+"/../escape.map", testPlan(), discardLogger()), "traversal")
}

func TestApplyWithDryRunExecutor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := executor.NewDryRunExecutor()
	plan := testPlan()

	_, err := Apply(ctx, d, NewCommandInspector(d), plan, Options{SkipSysctls: true}, discardLogger())
	require.NoError(t, err)

	var mutating []string
	for _, c := range d.Recorded() {
		if c != "ip -4 rule show" && !strings.HasPrefix(c, "ip -4 route show") {
			mutating = append(mutating, c)
		}
	}
	var want []string
	for _, c := range plan.Commands() {
		want = append(want, strings.Join(c, " "))
	}
	assert.Equal(t, want, mutating)
}
