package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nextrouter/nextrouter/internal/netcalc"
)

type calcOutput struct {
	CIDR string          `yaml:"cidr"`
	Net  netcalc.Network `yaml:",inline"`
	Class netcalc.Class  `yaml:"class"`
	DHCP  *netcalc.Range `yaml:"dhcp,omitempty"`
}

func newCalcCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "calc CIDR...",
		Short: "Print network, netmask, broadcast, gateway and host range of each CIDR",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			results := make([]calcOutput, 0, len(args))
			for _, arg := range args {
				n, err := netcalc.Parse(arg)
				if err != nil {
					return err
				}
				res := calcOutput{CIDR: n.CIDR(), Net: n, Class: netcalc.Classify(n.Address)}
				if r, err := netcalc.DefaultDHCPRange(n); err == nil {
					res.DHCP = &r
				}
				results = append(results, res)
			}

			switch format {
			case "text":
				for i, res := range results {
					if i > 0 {
						fmt.Fprintln(out)
					}
					writeCalcText(out, res)
				}
				return nil
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(results)
			default:
				return fmt.Errorf("unknown output format %q", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format (text, yaml)")
	return cmd
}

func writeCalcText(w io.Writer, res calcOutput) {
	n := res.Net
	fmt.Fprintf(w, "cidr:      %s\n", res.CIDR)
	fmt.Fprintf(w, "address:   %s\n", n.Address)
	fmt.Fprintf(w, "network:   %s\n", n.Prefix.Addr())
	fmt.Fprintf(w, "netmask:   %s\n", n.Netmask)
	fmt.Fprintf(w, "broadcast: %s\n", n.Broadcast)
	fmt.Fprintf(w, "gateway:   %s\n", n.Gateway)
	fmt.Fprintf(w, "hosts:     %s - %s (%d)\n", n.FirstHost, n.LastHost, n.HostCount)
	fmt.Fprintf(w, "class:     %s\n", res.Class)
	if res.DHCP != nil {
		fmt.Fprintf(w, "dhcp:      %s - %s\n", res.DHCP.Start, res.DHCP.End)
	}
}
