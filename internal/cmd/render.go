package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/logging"
	"github.com/nextrouter/nextrouter/internal/render"
)

type renderTarget struct {
	name string
	path string
}

func newRenderCmd(v *viper.Viper) *cobra.Command {
	var diff, write bool

	cmd := &cobra.Command{
		Use:   "render [nftables|dhcp|dnsmasq|dhcpd]...",
		Short: "Render the nftables ruleset and DHCP server configuration",
		Long: `render prints the rendered files to stdout. With --diff it prints a unified
diff against the installed files instead, and with --write it installs them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if diff && write {
				return fmt.Errorf("--diff and --write are mutually exclusive")
			}

			cfg, plan, err := loadPlan(v)
			if err != nil {
				return err
			}

			targets, err := renderTargets(cfg, args)
			if err != nil {
				return err
			}

			logger := logging.GetLogger()
			renderer := render.NewRenderer(cfg.TemplateDir)
			data := render.NewData(plan)
			out := cmd.OutOrStdout()

			for i, t := range targets {
				content, err := renderer.Render(t.name, data)
				if err != nil {
					return err
				}

				switch {
				case diff:
					d, err := render.Diff(t.path, content)
					if err != nil {
						return err
					}
					fmt.Fprint(out, d)
				case write:
					changed, err := render.WriteFile(t.path, content)
					if err != nil {
						return err
					}
					logger.Info("rendered file", slog.String("path", t.path), slog.Bool("changed", changed))
				default:
					if len(targets) > 1 {
						if i > 0 {
							fmt.Fprintln(out)
						}
						fmt.Fprintf(out, "==> %s <==\n", t.name)
					}
					fmt.Fprint(out, content)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&diff, "diff", false, "Show a unified diff against the installed files")
	cmd.Flags().BoolVar(&write, "write", false, "Install the rendered files")
	return cmd
}

// renderTargets resolves the requested template aliases. No arguments
// selects nftables plus the configured DHCP server, if any.
func renderTargets(cfg config.Config, args []string) ([]renderTarget, error) {
	explicit := len(args) > 0
	if !explicit {
		args = []string{"nftables", "dhcp"}
	}

	var targets []renderTarget
	for _, arg := range args {
		switch arg {
		case "nftables":
			targets = append(targets, renderTarget{name: render.Nftables, path: cfg.NftablesPath})
		case "dhcp":
			name, ok := dhcpTemplate(cfg.DHCPServer)
			if !ok {
				if !explicit {
					continue
				}
				return nil, fmt.Errorf("dhcp-server is %q, nothing to render", cfg.DHCPServer)
			}
			targets = append(targets, renderTarget{name: name, path: cfg.DHCPConfigPath})
		case config.DHCPServerDnsmasq, config.DHCPServerDhcpd:
			name, _ := dhcpTemplate(arg)
			path := cfg.DHCPConfigPath
			if arg != cfg.DHCPServer {
				path = config.DefaultDHCPConfigPath(arg)
			}
			targets = append(targets, renderTarget{name: name, path: path})
		default:
			return nil, fmt.Errorf("unknown template %q (want nftables, dhcp, dnsmasq or dhcpd)", arg)
		}
	}
	return targets, nil
}
