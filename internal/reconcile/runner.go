package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextrouter/nextrouter/internal/metrics"
	"github.com/nextrouter/nextrouter/internal/nft"
	"github.com/nextrouter/nextrouter/internal/policy"
	"github.com/nextrouter/nextrouter/internal/probe"
)

// Reconciler applies and checks a plan.
type Reconciler interface {
	Apply(ctx context.Context, plan policy.Plan) (Result, error)
	Check(ctx context.Context, plan policy.Plan) (Status, error)
}

// UplinkProber probes uplink gateways.
type UplinkProber interface {
	Probe(ctx context.Context, uplinks []policy.PlannedUplink) []probe.Result
}

// CounterReader reads the named nft counters.
type CounterReader interface {
	Counters(ctx context.Context) ([]nft.Counter, error)
}

// RunnerConfig holds the dependencies and settings for the Runner.
type RunnerConfig struct {
	Reconciler  Reconciler
	Plan        policy.Plan
	Interval    time.Duration
	Prober      UplinkProber
	Counters    CounterReader
	Metrics     *metrics.Metrics
	Health      *metrics.HealthChecker
	RuleMapPath string
	Logger      *slog.Logger
}

// Runner periodically verifies the kernel against the plan and re-applies
// on drift.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	applied bool
	last    string
}

// NewRunner validates the configuration and returns a Runner ready to run.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive")
	}
	if len(cfg.Plan.Uplinks) == 0 {
		return nil, fmt.Errorf("plan has no uplinks")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Run executes the reconcile loop until the context is canceled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("starting reconcile loop",
		slog.String("interval", r.cfg.Interval.String()),
		slog.Int("uplinks", len(r.cfg.Plan.Uplinks)),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer func() {
		ticker.Stop()
		r.logger.Info("stopping reconcile loop")
	}()

	// The first pass always applies so rendered files match the plan.
	r.Once(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

// LastResult returns the result label of the most recent pass.
func (r *Runner) LastResult() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Once runs a single reconcile pass and returns its result label.
func (r *Runner) Once(ctx context.Context) string {
	result := r.reconcile(ctx)

	r.mu.Lock()
	r.last = result
	r.mu.Unlock()

	if m := r.cfg.Metrics; m != nil {
		m.ObserveReconcile(result)
		m.SetRulesDesired(len(r.cfg.Plan.Rules))
		if n, err := metrics.CountRuleMapEntries(r.cfg.RuleMapPath); err != nil {
			m.IncrementError("rule_map")
			r.logger.Warn("failed to read rule map", slog.Any("error", err))
		} else {
			m.SetRuleMapEntries(n)
		}
	}

	r.probeUplinks(ctx)
	r.readCounters(ctx)
	return result
}

func (r *Runner) reconcile(ctx context.Context) string {
	r.mu.RLock()
	applied := r.applied
	r.mu.RUnlock()

	if applied {
		status, err := r.cfg.Reconciler.Check(ctx, r.cfg.Plan)
		if err != nil {
			r.recordError("verify")
			r.logger.Warn("verify failed", slog.Any("error", err))
			return metrics.ResultFailed
		}
		r.setDrift(status.Drift())
		if !status.Drift() {
			r.logger.Debug("state matches plan")
			return metrics.ResultConverged
		}
		r.logger.Info("drift detected, re-applying", slog.Any("drift", status.Lines()))
	}

	res, err := r.cfg.Reconciler.Apply(ctx, r.cfg.Plan)
	if err != nil {
		r.recordError("apply")
		if h := r.cfg.Health; h != nil {
			h.SetVerified(false)
		}
		r.logger.Warn("apply failed", slog.Any("error", err))
		return metrics.ResultFailed
	}

	r.mu.Lock()
	r.applied = true
	r.mu.Unlock()
	if h := r.cfg.Health; h != nil {
		h.SetRulesApplied()
	}
	r.setDrift(!res.Verified)

	r.logger.Info("apply complete",
		slog.Int("added", res.Routing.Added),
		slog.Int("deleted", res.Routing.Deleted),
		slog.Bool("nft_loaded", res.NftLoaded),
		slog.Bool("dhcp_changed", res.DHCPChanged),
		slog.Bool("verified", res.Verified),
	)

	if !res.Verified {
		return metrics.ResultFailed
	}
	if !applied && !res.Routing.Mutated() && !res.NftLoaded && !res.DHCPChanged {
		return metrics.ResultConverged
	}
	return metrics.ResultRepaired
}

func (r *Runner) setDrift(drift bool) {
	if m := r.cfg.Metrics; m != nil {
		m.SetDrift(drift)
	}
	if h := r.cfg.Health; h != nil {
		h.SetVerified(!drift)
	}
}

func (r *Runner) recordError(kind string) {
	if m := r.cfg.Metrics; m != nil {
		m.IncrementError(kind)
	}
}

func (r *Runner) probeUplinks(ctx context.Context) {
	if r.cfg.Prober == nil {
		return
	}
	for _, res := range r.cfg.Prober.Probe(ctx, r.cfg.Plan.Uplinks) {
		if res.Skipped {
			continue
		}
		if res.Err != nil {
			r.recordError("probe")
		}
		if m := r.cfg.Metrics; m != nil {
			m.SetUplink(res.Uplink, res.Up, res.RTT.Seconds())
		}
	}
}

func (r *Runner) readCounters(ctx context.Context) {
	if r.cfg.Counters == nil || r.cfg.Metrics == nil {
		return
	}
	counters, err := r.cfg.Counters.Counters(ctx)
	if err != nil {
		r.recordError("counters")
		r.logger.Warn("failed to read traffic counters", slog.Any("error", err))
		return
	}

	byName := make(map[string]nft.Counter, len(counters))
	for _, c := range counters {
		byName[c.Name] = c
	}
	var samples []metrics.TrafficSample
	for _, ref := range r.cfg.Plan.Counters() {
		c, ok := byName[ref.Name]
		if !ok {
			continue
		}
		samples = append(samples, metrics.TrafficSample{
			Uplink:    ref.Uplink,
			Direction: ref.Direction,
			Source:    ref.Source,
			Packets:   c.Packets,
			Bytes:     c.Bytes,
		})
	}
	r.cfg.Metrics.SetTraffic(samples)
}
