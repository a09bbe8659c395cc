package iproute

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/policy"
)

// Options tunes Apply.
type Options struct {
	// RuleMapPath is where the audit map is written; empty disables it.
	RuleMapPath string
	// SkipSysctls leaves kernel parameters untouched.
	SkipSysctls bool
}

// Apply converges routing state in dependency order: sysctls, uplink tables,
// then rules, so no rule ever points at an empty table. The route cache is
// flushed only when something changed.
func Apply(ctx context.Context, exec executor.Executor, insp Inspector, plan policy.Plan, opts Options, logger *slog.Logger) (Changes, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := ctx.Err(); err != nil {
		return Changes{}, err
	}

	var total Changes

	if !opts.SkipSysctls {
		c, err := ApplySysctls(ctx, exec, plan.WANInterfaces(), logger)
		total = total.add(c)
		if err != nil {
			return total, fmt.Errorf("apply sysctls: %w", err)
		}
	}

	routing := Changes{}
	c, err := EnsureRoutes(ctx, exec, insp, plan, logger)
	routing = routing.add(c)
	if err != nil {
		return total.add(routing), fmt.Errorf("ensure routes: %w", err)
	}

	c, err = EnsureRules(ctx, exec, insp, plan, logger)
	routing = routing.add(c)
	if err != nil {
		return total.add(routing), fmt.Errorf("ensure rules: %w", err)
	}
	total = total.add(routing)

	if routing.Mutated() {
		if err := FlushCache(ctx, exec); err != nil {
			return total, err
		}
	}

	if err := WriteRuleMap(opts.RuleMapPath, plan, logger); err != nil {
		return total, fmt.Errorf("write rule map: %w", err)
	}

	logger.Info("routing converged",
		slog.Int("added", total.Added),
		slog.Int("deleted", total.Deleted),
		slog.Int("unchanged", total.Unchanged),
		slog.Int("rules", len(plan.Rules)),
		slog.Int("routes", len(plan.Routes)),
	)
	return total, nil
}
