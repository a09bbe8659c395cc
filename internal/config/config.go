package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DHCP server flavours nextrouter can render configuration for.
const (
	DHCPServerDnsmasq = "dnsmasq"
	DHCPServerDhcpd   = "dhcpd"
	DHCPServerNone    = "none"
)

// Inspector backends used to read kernel routing state.
const (
	InspectorIP      = "ip"
	InspectorNetlink = "netlink"
)

// Config captures the runtime settings for nextrouter commands. The flat
// wan/lan keys mirror the legacy installer flags; a topology file replaces
// them when given.
type Config struct {
	WAN0           string   `mapstructure:"wan0"`
	WAN1           string   `mapstructure:"wan1"`
	WAN0Gateway    string   `mapstructure:"wan0-gateway"`
	WAN1Gateway    string   `mapstructure:"wan1-gateway"`
	WAN0Sources    []string `mapstructure:"wan0-sources"`
	WAN1Sources    []string `mapstructure:"wan1-sources"`
	LAN0           string   `mapstructure:"lan0"`
	LocalIP        string   `mapstructure:"local-ip"`
	DNSServers     []string `mapstructure:"dns-servers"`
	Domain         string   `mapstructure:"domain"`
	LeaseTime      string   `mapstructure:"lease-time"`
	DHCPStart      string   `mapstructure:"dhcp-start"`
	DHCPEnd        string   `mapstructure:"dhcp-end"`
	DHCPServer     string   `mapstructure:"dhcp-server"`
	TemplateDir    string   `mapstructure:"template-dir"`
	NftablesPath   string   `mapstructure:"nftables-path"`
	DHCPConfigPath string   `mapstructure:"dhcp-config-path"`
	RuleMapPath    string   `mapstructure:"rule-map-path"`
	Inspector      string   `mapstructure:"inspector"`
	DryRun         bool     `mapstructure:"dry-run"`
	MetricsAddr    string   `mapstructure:"metrics-addr"`
	Interval       string   `mapstructure:"reconcile-interval"`
	ProbeTimeout   string   `mapstructure:"probe-timeout"`
	ProbeDNS       bool     `mapstructure:"probe-dns"`
	LogLevel       string   `mapstructure:"log-level"`
	TopologyFile   string   `mapstructure:"topology"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dns-servers", []string{"1.1.1.1", "8.8.8.8"})
	v.SetDefault("domain", "lan")
	v.SetDefault("lease-time", "12h")
	v.SetDefault("dhcp-server", DHCPServerDnsmasq)
	v.SetDefault("nftables-path", "/etc/nftables.d/nextrouter.nft")
	v.SetDefault("rule-map-path", "/var/lib/nextrouter/rules.map")
	v.SetDefault("inspector", InspectorIP)
	v.SetDefault("metrics-addr", ":9108")
	v.SetDefault("reconcile-interval", "30s")
	v.SetDefault("probe-timeout", "2s")
	v.SetDefault("probe-dns", true)
	v.SetDefault("log-level", "info")
}

// Load reads configuration values from viper into a Config instance.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration values from v.
func LoadFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to load configuration: %w", err)
	}
	cfg.WAN0Sources = splitList(cfg.WAN0Sources)
	cfg.WAN1Sources = splitList(cfg.WAN1Sources)
	cfg.DNSServers = splitList(cfg.DNSServers)

	if cfg.DHCPConfigPath == "" {
		cfg.DHCPConfigPath = DefaultDHCPConfigPath(cfg.DHCPServer)
	}
	return cfg, nil
}

// DefaultDHCPConfigPath returns where the given server reads its config.
func DefaultDHCPConfigPath(server string) string {
	switch server {
	case DHCPServerDhcpd:
		return "/etc/dhcp/dhcpd.conf"
	case DHCPServerDnsmasq:
		return "/etc/dnsmasq.d/nextrouter.conf"
	default:
		return ""
	}
}

// ReconcileInterval parses the watch loop period.
func (c Config) ReconcileInterval() (time.Duration, error) {
	return parsePositiveDuration("reconcile-interval", c.Interval)
}

// ProbeTimeoutDuration parses the per-probe deadline.
func (c Config) ProbeTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("probe-timeout", c.ProbeTimeout)
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

// splitList flattens comma separated entries that arrive through env vars.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
