package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/nft"
)

// These tests share package state (the global logger and newExecutor) and
// therefore do not run in parallel.

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func topologyFlags(dir string) []string {
	return []string{
		"--wan0", "eth0", "--wan0-gateway", "203.0.113.1",
		"--wan1", "eth1", "--wan1-gateway", "198.51.100.1", "--wan1-sources", "192.168.10.50",
		"--lan0", "eth2", "--local-ip", "192.168.10.1/24",
		"--nftables-path", filepath.Join(dir, "nextrouter.nft"),
		"--dhcp-config-path", filepath.Join(dir, "nextrouter.conf"),
		"--rule-map-path", filepath.Join(dir, "rules.map"),
		"--log-level", "error",
	}
}

func TestCalc(t *testing.T) {
	out, err := run(t, "calc", "192.168.10.1/24")
	require.NoError(t, err)

	for _, want := range []string{
		"network:   192.168.10.0\n",
		"netmask:   255.255.255.0\n",
		"broadcast: 192.168.10.255\n",
		"gateway:   192.168.10.1\n",
		"hosts:     192.168.10.1 - 192.168.10.254 (254)\n",
		"class:     private\n",
		"dhcp:      192.168.10.128 - 192.168.10.254\n",
	} {
		assert.Contains(t, out, want)
	}
}

func TestCalcYAML(t *testing.T) {
	out, err := run(t, "calc", "-o", "yaml", "10.0.0.0/31", "100.64.1.1")
	require.NoError(t, err)

	var results []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)

	assert.Equal(t, "10.0.0.0/31", results[0]["cidr"])
	assert.Equal(t, 2, results[0]["host_count"])
	assert.Equal(t, "10.0.0.1", results[0]["last_host"])

	assert.Equal(t, "100.64.1.1/32", results[1]["cidr"])
	assert.Equal(t, "cgnat", results[1]["class"])
	_, hasPool := results[1]["dhcp"]
	assert.False(t, hasPool, "a /32 has no room for a pool")
}

func TestCalcRejectsIPv6(t *testing.T) {
	_, err := run(t, "calc", "2001:db8::1/64")
	assert.ErrorContains(t, err, "only IPv4")
}

func TestPlan(t *testing.T) {
	out, err := run(t, append([]string{"plan"}, topologyFlags(t.TempDir())...)...)
	require.NoError(t, err)

	var plan struct {
		Uplinks []struct {
			Name  string `yaml:"name"`
			Mark  int    `yaml:"mark"`
			Table int    `yaml:"table"`
		} `yaml:"uplinks"`
		Rules []struct {
			Priority int    `yaml:"priority"`
			From     string `yaml:"from"`
			Table    int    `yaml:"table"`
		} `yaml:"rules"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &plan))

	require.Len(t, plan.Uplinks, 2)
	for i, u := range plan.Uplinks {
		assert.Equal(t, i+1, u.Mark)
		assert.Equal(t, i+1, u.Table)
	}
	require.Len(t, plan.Rules, 3)
	assert.Equal(t, 2000, plan.Rules[2].Priority)
	assert.Equal(t, "192.168.10.50", plan.Rules[2].From)
	assert.Equal(t, 2, plan.Rules[2].Table)
}

func TestPlanCommands(t *testing.T) {
	out, err := run(t, append([]string{"plan", "--commands"}, topologyFlags(t.TempDir())...)...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "ip route replace default via 203.0.113.1 dev eth0 table 1", lines[0])
	assert.Contains(t, lines, "ip rule add priority 1001 from all fwmark 0x2 table 2")
	assert.Contains(t, lines, "ip rule add priority 2000 from 192.168.10.50 table 2")
	assert.Equal(t, "ip route flush cache", lines[len(lines)-1])
}

func TestPlanFromTopologyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`wan "fiber" {
  interface = "enp1s0"
  gateway   = "203.0.113.1"
}

lan {
  interface = "br-lan"
  address   = "10.20.0.1/16"
}
`), 0o644))

	out, err := run(t, "plan", "--topology", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "name: fiber")
	assert.Contains(t, out, "destination: 10.20.0.0/16")
}

func TestPlanRejectsInvalidTopology(t *testing.T) {
	_, err := run(t, "plan", "--lan0", "eth2", "--local-ip", "192.168.10.1/24", "--log-level", "error")
	assert.ErrorContains(t, err, "at least one wan uplink is required")
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	flags := topologyFlags(dir)

	out, err := run(t, append([]string{"render"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "==> nftables.conf <==\n")
	assert.Contains(t, out, "==> dnsmasq.conf <==\n")
	assert.Contains(t, out, "table ip nextrouter {")
	assert.Contains(t, out, "interface=eth2\n")

	out, err = run(t, append([]string{"render", "--diff", "nftables"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "+++ "+filepath.Join(dir, "nextrouter.nft")+" (rendered)")

	_, err = run(t, append([]string{"render", "--write"}, flags...)...)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "nextrouter.nft"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "oifname \"eth1\" masquerade")

	out, err = run(t, append([]string{"render", "--diff"}, flags...)...)
	require.NoError(t, err)
	assert.Empty(t, out, "installed files match the rendered output")

	out, err = run(t, append([]string{"render", "dhcpd"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "subnet 192.168.10.0 netmask 255.255.255.0 {")
}

func TestRenderErrors(t *testing.T) {
	flags := topologyFlags(t.TempDir())

	_, err := run(t, append([]string{"render", "--diff", "--write"}, flags...)...)
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = run(t, append([]string{"render", "radvd"}, flags...)...)
	assert.ErrorContains(t, err, "unknown template")

	_, err = run(t, append([]string{"render", "dhcp", "--dhcp-server", "none"}, flags...)...)
	assert.ErrorContains(t, err, "nothing to render")

	out, err := run(t, append([]string{"render", "--dhcp-server", "none"}, flags...)...)
	require.NoError(t, err)
	assert.NotContains(t, out, "==>", "a single target is printed without a banner")
}

func TestApplyDryRun(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, append([]string{"apply", "--dry-run"}, topologyFlags(dir)...)...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, want := range []string{
		"sysctl -w net.ipv4.ip_forward=1",
		"nft -c -f -",
		"nft -f -",
		"ip route replace default via 198.51.100.1 dev eth1 table 2",
		"ip rule add priority 1000 from all fwmark 0x1 table 1",
		"ip rule add priority 2000 from 192.168.10.50 table 2",
		"ip route flush cache",
		"systemctl restart dnsmasq.service",
	} {
		assert.Contains(t, lines, want)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVerify(t *testing.T) {
	dry := executor.NewDryRunExecutor()
	previous := newExecutor
	newExecutor = func() executor.Executor { return dry }
	t.Cleanup(func() { newExecutor = previous })

	flags := topologyFlags(t.TempDir())

	out, err := run(t, append([]string{"verify"}, flags...)...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDrift))
	assert.Contains(t, out, "+ rule 1000: from all fwmark 0x1 lookup 1\n")
	assert.Contains(t, out, "+ route table 2 default via 198.51.100.1 dev eth1\n")
	assert.Contains(t, out, "+ nft table ip nextrouter\n")

	dry.Responses["ip -4 rule show"] = "0:\tfrom all lookup local\n" +
		"1000:\tfrom all fwmark 0x1 lookup 1\n" +
		"1001:\tfrom all fwmark 0x2 lookup 2\n" +
		"2000:\tfrom 192.168.10.50 lookup 2\n" +
		"32766:\tfrom all lookup main\n"
	dry.Responses["ip -4 route show table 1"] = "default via 203.0.113.1 dev eth0\n192.168.10.0/24 dev eth2 scope link\n"
	dry.Responses["ip -4 route show table 2"] = "default via 198.51.100.1 dev eth1\n192.168.10.0/24 dev eth2 scope link\n"
	dry.Responses["nft list table ip nextrouter"] = "table ip nextrouter {\n" +
		"\tchain prerouting {\n\t}\n\tchain output {\n\t}\n\tchain forward {\n\t}\n\tchain postrouting {\n\t}\n}\n"

	out, err = run(t, append([]string{"verify"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "ok: 3 rules, 4 routes, nftables table ip nextrouter present\n", out)

	dry.Responses["ip -4 rule show"] += "1500:\tfrom all fwmark 0x9 lookup 9\n"
	out, err = run(t, append([]string{"verify"}, flags...)...)
	require.Error(t, err)
	assert.Equal(t, "- rule 1500: from all fwmark 0x9 lookup 9\n", out)
}

func TestUnknownInspector(t *testing.T) {
	_, err := run(t, append([]string{"verify", "--inspector", "procfs"}, topologyFlags(t.TempDir())...)...)
	assert.ErrorContains(t, err, "unknown inspector")
}

func TestNewCounterReader(t *testing.T) {
	reader, err := newCounterReader(config.Config{Inspector: config.InspectorIP}, executor.NewDryRunExecutor())
	require.NoError(t, err)
	assert.IsType(t, &nft.CommandCounterReader{}, reader)

	_, err = newCounterReader(config.Config{Inspector: "procfs"}, executor.NewDryRunExecutor())
	assert.ErrorContains(t, err, "unknown inspector")
}

func TestWatchRejectsBadInterval(t *testing.T) {
	_, err := run(t, append([]string{"watch", "--reconcile-interval", "0s"}, topologyFlags(t.TempDir())...)...)
	assert.ErrorContains(t, err, "reconcile-interval must be positive")
}
