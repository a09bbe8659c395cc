package iproute

import (
	"context"
	"fmt"
	"sort"

	"github.com/nextrouter/nextrouter/internal/policy"
)

// Report lists the differences between the kernel and a plan.
type Report struct {
	MissingRules     []policy.Rule
	UnexpectedRules  []KernelRule
	MissingRoutes    []policy.Route
	UnexpectedRoutes []KernelRoute
}

// Drift reports whether the kernel differs from the plan.
func (r Report) Drift() bool {
	return len(r.MissingRules) > 0 || len(r.UnexpectedRules) > 0 ||
		len(r.MissingRoutes) > 0 || len(r.UnexpectedRoutes) > 0
}

// Lines renders the report one difference per line, prefixed with + for
// missing state and - for state that should not be there.
func (r Report) Lines() []string {
	var out []string
	for _, x := range r.MissingRules {
		out = append(out, "+ rule "+x.String())
	}
	for _, x := range r.UnexpectedRules {
		out = append(out, "- rule "+x.String())
	}
	for _, x := range r.MissingRoutes {
		out = append(out, "+ route "+x.String())
	}
	for _, x := range r.UnexpectedRoutes {
		out = append(out, "- route "+x.String())
	}
	return out
}

// Verify compares the owned rule priorities and uplink tables with the plan.
// Rules outside the owned range are ignored.
func Verify(ctx context.Context, insp Inspector, plan policy.Plan) (Report, error) {
	var report Report

	rules, err := insp.Rules(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("inspect rules: %w", err)
	}

	byPriority := make(map[int][]KernelRule)
	for _, r := range rules {
		if policy.Owned(r.Priority) {
			byPriority[r.Priority] = append(byPriority[r.Priority], r)
		}
	}

	desired := make(map[int]bool, len(plan.Rules))
	for _, want := range plan.Rules {
		desired[want.Priority] = true
		found := false
		for _, have := range byPriority[want.Priority] {
			if !found && have.Matches(want) {
				found = true
				continue
			}
			report.UnexpectedRules = append(report.UnexpectedRules, have)
		}
		if !found {
			report.MissingRules = append(report.MissingRules, want)
		}
	}

	var orphaned []int
	for prio := range byPriority {
		if !desired[prio] {
			orphaned = append(orphaned, prio)
		}
	}
	sort.Ints(orphaned)
	for _, prio := range orphaned {
		report.UnexpectedRules = append(report.UnexpectedRules, byPriority[prio]...)
	}

	for _, table := range plan.Tables() {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		current, err := insp.Routes(ctx, table)
		if err != nil {
			return Report{}, fmt.Errorf("inspect table %d: %w", table, err)
		}
		want := plan.RoutesForTable(table)

		for _, r := range want {
			if !containsRoute(current, r) {
				report.MissingRoutes = append(report.MissingRoutes, r)
			}
		}
		for _, kr := range current {
			matched := false
			for _, r := range want {
				if kr.Matches(r) {
					matched = true
					break
				}
			}
			if !matched {
				report.UnexpectedRoutes = append(report.UnexpectedRoutes, kr)
			}
		}
	}

	return report, nil
}
