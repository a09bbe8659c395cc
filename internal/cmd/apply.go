package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/logging"
)

func newApplyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge sysctls, nftables, routes, rules and the DHCP server to the plan",
		Long: `apply is idempotent: state that already matches the plan is left alone, so
running it twice issues no mutating commands the second time. With --dry-run
the commands are printed instead of executed and no files are written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, plan, err := loadPlan(v)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var recorder *executor.DryRunExecutor
			exec := newExecutor()
			if cfg.DryRun {
				recorder = executor.NewDryRunExecutor()
				exec = recorder
			}

			applier, err := newApplier(cfg, exec, cfg.DryRun)
			if err != nil {
				return err
			}

			res, err := applier.Apply(ctx, plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if recorder != nil {
				for _, line := range recorder.Recorded() {
					fmt.Fprintln(out, line)
				}
				return nil
			}

			fmt.Fprintf(out, "sysctls: %d set, %d unchanged\n", res.Sysctls.Added, res.Sysctls.Unchanged)
			fmt.Fprintf(out, "routing: %d added, %d deleted, %d unchanged\n", res.Routing.Added, res.Routing.Deleted, res.Routing.Unchanged)
			fmt.Fprintf(out, "nftables: reloaded=%t\n", res.NftLoaded)
			if res.Restarted != "" {
				fmt.Fprintf(out, "restarted: %s\n", res.Restarted)
			}
			if !res.Verified {
				for _, line := range res.Status.Lines() {
					fmt.Fprintln(out, line)
				}
				return fmt.Errorf("state differs from plan after apply")
			}
			logging.GetLogger().Info("apply verified",
				slog.Int("rules", len(plan.Rules)),
				slog.Int("routes", len(plan.Routes)),
			)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Print commands instead of executing them")
	mustBindFlags(v, cmd.Flags(), "dry-run")
	return cmd
}

// signalContext is shared by the long-running commands.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
