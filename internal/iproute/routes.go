package iproute

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/policy"
)

// EnsureRoutes populates every uplink table. Planned routes already present
// are skipped, missing or differing ones are installed with ip route replace,
// and anything else found in an owned table is deleted.
func EnsureRoutes(ctx context.Context, exec executor.Executor, insp Inspector, plan policy.Plan, logger *slog.Logger) (Changes, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var changes Changes
	for _, table := range plan.Tables() {
		if err := ctx.Err(); err != nil {
			return changes, err
		}

		current, err := insp.Routes(ctx, table)
		if err != nil {
			return changes, fmt.Errorf("inspect table %d: %w", table, err)
		}
		desired := plan.RoutesForTable(table)

		for _, route := range desired {
			if containsRoute(current, route) {
				logger.Debug("route already present", slog.String("route", route.String()))
				changes.Unchanged++
				continue
			}
			logger.Info("installing route", slog.String("route", route.String()))
			if err := exec.Run(ctx, "ip", append([]string{"route", "replace"}, route.Args()...)...); err != nil {
				return changes, fmt.Errorf("replace route %s: %w", route, err)
			}
			changes.Added++
		}

		for _, kr := range current {
			if routeKeyPlanned(desired, kr) {
				continue
			}
			logger.Info("removing stale route", slog.String("route", kr.String()))
			if err := exec.Run(ctx, "ip", append([]string{"route", "del"}, kr.DeleteArgs()...)...); err != nil {
				if executor.IsNotFound(err) {
					continue
				}
				return changes, fmt.Errorf("delete route %s: %w", kr, err)
			}
			changes.Deleted++
		}
	}
	return changes, nil
}

// FlushCache drops cached routing decisions so existing flows pick up new
// rules.
func FlushCache(ctx context.Context, exec executor.Executor) error {
	if err := exec.Run(ctx, "ip", "route", "flush", "cache"); err != nil {
		return fmt.Errorf("flush route cache: %w", err)
	}
	return nil
}

func containsRoute(current []KernelRoute, route policy.Route) bool {
	for _, kr := range current {
		if kr.Matches(route) {
			return true
		}
	}
	return false
}

// routeKeyPlanned reports whether kr occupies a destination the plan writes
// with replace. Such routes are overwritten in place, never deleted.
func routeKeyPlanned(desired []policy.Route, kr KernelRoute) bool {
	if kr.Type != "" || kr.Metric != 0 {
		return false
	}
	key := policy.Route{Table: kr.Table, Destination: kr.Destination}.Key()
	for _, r := range desired {
		if r.Key() == key {
			return true
		}
	}
	return false
}
