package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/logging"
)

const serviceName = "nextrouter"

// Execute runs the root command against the global viper instance.
func Execute() error {
	return NewRootCmd(viper.GetViper()).Execute()
}

// NewRootCmd builds the command tree. Every flag is bound to v, so flags,
// NR_ environment variables and the config file resolve through one place.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Dual-WAN policy routing configurator",
		Long: `nextrouter computes and applies the policy routing of a dual-WAN router.
Each uplink gets a packet mark and a routing table; fwmark and per-source rules
select the table, nftables marks connections and masquerades on every WAN, and
the LAN DHCP server configuration is rendered from the same topology.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix("NR")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()

			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config file: %w", err)
				}
			}

			logging.InitLogger(v.GetString("log-level"), serviceName)
			return nil
		},
	}

	config.SetDefaults(v)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("topology", "", "Topology file (.hcl, .yaml, .json, .toml); replaces the wan/lan flags")
	flags.String("wan0", "", "Interface of the first uplink")
	flags.String("wan1", "", "Interface of the second uplink")
	flags.String("wan0-gateway", "", "Gateway of the first uplink")
	flags.String("wan1-gateway", "", "Gateway of the second uplink")
	flags.StringSlice("wan0-sources", nil, "LAN addresses or CIDRs pinned to the first uplink")
	flags.StringSlice("wan1-sources", nil, "LAN addresses or CIDRs pinned to the second uplink")
	flags.String("lan0", "", "LAN interface")
	flags.String("local-ip", "", "Router address on the LAN in CIDR form, e.g. 192.168.10.1/24")
	flags.StringSlice("dns-servers", nil, "Upstream DNS servers handed to the DHCP server")
	flags.String("domain", "", "LAN domain")
	flags.String("lease-time", "", "DHCP lease time (Go duration or infinite)")
	flags.String("dhcp-start", "", "First address of the DHCP pool")
	flags.String("dhcp-end", "", "Last address of the DHCP pool")
	flags.String("dhcp-server", "", "DHCP server to configure (dnsmasq, dhcpd, none)")
	flags.String("template-dir", "", "Directory with template overrides")
	flags.String("nftables-path", "", "Where the rendered nftables ruleset is installed")
	flags.String("dhcp-config-path", "", "Where the rendered DHCP server config is installed")
	flags.String("rule-map-path", "", "Where the installed rule map is recorded")
	flags.String("inspector", "", "Kernel state reader (ip, netlink)")

	mustBindFlags(v, flags, "log-level", "topology", "wan0", "wan1", "wan0-gateway", "wan1-gateway",
		"wan0-sources", "wan1-sources", "lan0", "local-ip", "dns-servers", "domain", "lease-time",
		"dhcp-start", "dhcp-end", "dhcp-server", "template-dir", "nftables-path", "dhcp-config-path",
		"rule-map-path", "inspector")

	root.AddCommand(
		newCalcCmd(),
		newPlanCmd(v),
		newRenderCmd(v),
		newApplyCmd(v),
		newVerifyCmd(v),
		newWatchCmd(v),
	)
	return root
}

// mustBindFlags binds each named flag to the key of the same name. A
// missing flag is a programming error.
func mustBindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}
}
