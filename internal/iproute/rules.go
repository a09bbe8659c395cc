package iproute

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/policy"
)

// Changes counts what a convergence pass did to the kernel.
type Changes struct {
	Added     int
	Deleted   int
	Unchanged int
}

// Mutated reports whether any mutating command was issued.
func (c Changes) Mutated() bool {
	return c.Added > 0 || c.Deleted > 0
}

func (c Changes) add(o Changes) Changes {
	return Changes{Added: c.Added + o.Added, Deleted: c.Deleted + o.Deleted, Unchanged: c.Unchanged + o.Unchanged}
}

// EnsureRules converges the owned rule priorities to the plan. The kernel is
// listed once. A priority holding exactly the planned rule is left alone;
// any other content at that priority is removed before the planned rule is
// added. Owned priorities the plan does not name are emptied.
func EnsureRules(ctx context.Context, exec executor.Executor, insp Inspector, plan policy.Plan, logger *slog.Logger) (Changes, error) {
	if logger == nil {
		logger = slog.Default()
	}

	current, err := insp.Rules(ctx)
	if err != nil {
		return Changes{}, fmt.Errorf("inspect rules: %w", err)
	}

	byPriority := make(map[int][]KernelRule)
	for _, r := range current {
		byPriority[r.Priority] = append(byPriority[r.Priority], r)
	}

	var changes Changes
	desired := make(map[int]bool, len(plan.Rules))

	for _, rule := range plan.Rules {
		if err := ctx.Err(); err != nil {
			return changes, err
		}
		desired[rule.Priority] = true

		existing := byPriority[rule.Priority]
		if len(existing) == 1 && existing[0].Matches(rule) {
			logger.Debug("rule already present", slog.String("rule", rule.String()))
			changes.Unchanged++
			continue
		}

		for _, stale := range existing {
			logger.Info("replacing rule", slog.String("current", stale.String()), slog.String("desired", rule.String()))
			if err := deleteRule(ctx, exec, stale.Priority); err != nil {
				return changes, err
			}
			changes.Deleted++
		}

		logger.Info("adding rule", slog.String("rule", rule.String()))
		if err := exec.Run(ctx, "ip", append([]string{"rule", "add"}, rule.Args()...)...); err != nil {
			return changes, fmt.Errorf("add rule %s: %w", rule, err)
		}
		changes.Added++
	}

	var orphaned []int
	for prio := range byPriority {
		if policy.Owned(prio) && !desired[prio] {
			orphaned = append(orphaned, prio)
		}
	}
	sort.Ints(orphaned)

	for _, prio := range orphaned {
		for _, stale := range byPriority[prio] {
			logger.Info("removing stale rule", slog.String("rule", stale.String()))
			if err := deleteRule(ctx, exec, prio); err != nil {
				return changes, err
			}
			changes.Deleted++
		}
	}

	return changes, nil
}

// deleteRule removes one rule at prio. A rule that vanished in the meantime
// is not an error.
func deleteRule(ctx context.Context, exec executor.Executor, prio int) error {
	if err := exec.Run(ctx, "ip", "rule", "del", "priority", strconv.Itoa(prio)); err != nil {
		if executor.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete rule at priority %d: %w", prio, err)
	}
	return nil
}
