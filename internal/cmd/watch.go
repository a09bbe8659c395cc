package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nextrouter/nextrouter/internal/logging"
	"github.com/nextrouter/nextrouter/internal/metrics"
	"github.com/nextrouter/nextrouter/internal/probe"
	"github.com/nextrouter/nextrouter/internal/reconcile"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the host converged, probe uplinks and serve /metrics and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, plan, err := loadPlan(v)
			if err != nil {
				return err
			}
			interval, err := cfg.ReconcileInterval()
			if err != nil {
				return err
			}
			probeTimeout, err := cfg.ProbeTimeoutDuration()
			if err != nil {
				return err
			}

			logger := logging.GetLogger().With(slog.String("component", "watch"))

			exec := newExecutor()
			applier, err := newApplier(cfg, exec, false)
			if err != nil {
				return err
			}
			counters, err := newCounterReader(cfg, exec)
			if err != nil {
				return err
			}

			m := metrics.NewMetrics()
			health := metrics.NewHealthChecker()

			runner, err := reconcile.NewRunner(reconcile.RunnerConfig{
				Reconciler:  applier,
				Plan:        plan,
				Interval:    interval,
				Prober:      probe.NewGatewayProber(probeTimeout, nil, logger),
				Counters:    counters,
				Metrics:     m,
				Health:      health,
				RuleMapPath: cfg.RuleMapPath,
				Logger:      logger,
			})
			if err != nil {
				return fmt.Errorf("create reconcile loop: %w", err)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			mux.Handle("/healthz", health.Handler())
			server := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			serverErr := make(chan error, 1)
			if cfg.MetricsAddr != "" {
				go func() {
					logger.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serverErr <- err
					}
				}()
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				runner.Run(ctx)
			}()

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-serverErr:
				runErr = fmt.Errorf("metrics server: %w", err)
				stop()
			}

			<-done

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cfg.MetricsAddr != "" {
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Warn("metrics server shutdown failed", slog.Any("error", err))
				}
			}

			logger.Info("watch shutdown complete", slog.String("last_result", runner.LastResult()))
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.String("metrics-addr", "", "Listen address for /metrics and /healthz; empty disables the server")
	flags.String("reconcile-interval", "", "How often state is verified")
	flags.String("probe-timeout", "", "Deadline of each gateway probe")
	flags.Bool("probe-dns", true, "Query the LAN resolver after restarting dnsmasq")
	mustBindFlags(v, flags, "metrics-addr", "reconcile-interval", "probe-timeout", "probe-dns")
	return cmd
}
