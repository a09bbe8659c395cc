package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nextrouter/nextrouter/internal/nft"
)

// ErrDrift is returned by verify when the kernel differs from the plan.
var ErrDrift = errors.New("kernel state differs from plan")

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Compare kernel rules, routes and the nftables table with the plan",
		Long: `verify prints one line per difference: "+" marks state the plan needs but
the kernel lacks, "-" marks owned state the plan does not name. It exits
non-zero when anything differs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, plan, err := loadPlan(v)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			applier, err := newApplier(cfg, newExecutor(), false)
			if err != nil {
				return err
			}

			status, err := applier.Check(ctx, plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			lines := status.Lines()
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			if status.Drift() {
				return fmt.Errorf("%w: %d differences", ErrDrift, len(lines))
			}
			fmt.Fprintf(out, "ok: %d rules, %d routes, nftables table %s %s present\n", len(plan.Rules), len(plan.Routes), nft.Family, nft.TableName)
			return nil
		},
	}
}
