package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/iproute"
	"github.com/nextrouter/nextrouter/internal/nft"
	"github.com/nextrouter/nextrouter/internal/policy"
	"github.com/nextrouter/nextrouter/internal/probe"
	"github.com/nextrouter/nextrouter/internal/render"
	"github.com/nextrouter/nextrouter/internal/service"
)

// ServiceManager restarts the DHCP server unit.
type ServiceManager interface {
	Restart(ctx context.Context, unit string) error
	RestartAndVerify(ctx context.Context, unit string) error
}

// ResolverProber checks the LAN resolver after a restart.
type ResolverProber interface {
	ProbeAny(ctx context.Context, servers []string) error
}

// Options selects where rendered files go and which side effects run.
type Options struct {
	NftablesPath   string
	DHCPConfigPath string
	DHCPServer     string
	RuleMapPath    string
	ProbeDNS       bool
	// DryRun leaves files untouched, restarts without waiting and skips the
	// final verify. Commands still go to the executor, which is expected to
	// be a recorder.
	DryRun bool
}

// Deps are the collaborators of an Applier. Exec and Routes are required.
type Deps struct {
	Exec     executor.Executor
	Routes   iproute.Inspector
	Tables   nft.TableInspector
	Renderer *render.Renderer
	Services ServiceManager
	Resolver ResolverProber
	Logger   *slog.Logger
}

// Applier runs the full apply flow for a plan.
type Applier struct {
	exec     executor.Executor
	routes   iproute.Inspector
	tables   nft.TableInspector
	renderer *render.Renderer
	services ServiceManager
	resolver ResolverProber
	opts     Options
	logger   *slog.Logger
}

// NewApplier fills unset dependencies with their command-line backed
// defaults.
func NewApplier(deps Deps, opts Options) (*Applier, error) {
	if deps.Exec == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Routes == nil {
		return nil, errors.New("route inspector is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Tables == nil {
		deps.Tables = nft.NewCommandTableInspector(deps.Exec)
	}
	if deps.Renderer == nil {
		deps.Renderer = render.NewRenderer("")
	}
	if deps.Services == nil {
		deps.Services = service.NewManager(deps.Exec, logger)
	}
	if deps.Resolver == nil {
		deps.Resolver = probe.NewDNSProber(2 * time.Second)
	}
	if opts.DHCPServer == "" {
		opts.DHCPServer = config.DHCPServerNone
	}

	return &Applier{
		exec:     deps.Exec,
		routes:   deps.Routes,
		tables:   deps.Tables,
		renderer: deps.Renderer,
		services: deps.Services,
		resolver: deps.Resolver,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Status is the outcome of comparing the kernel with a plan.
type Status struct {
	Report iproute.Report
	Table  nft.TableState
}

// Drift reports whether routing or the nftables table differ from the plan.
func (s Status) Drift() bool {
	return s.Report.Drift() || !s.Table.Healthy()
}

// Lines lists every difference, routing first.
func (s Status) Lines() []string {
	lines := s.Report.Lines()
	if !s.Table.Exists {
		return append(lines, fmt.Sprintf("+ nft table %s %s", nft.Family, nft.TableName))
	}
	for _, c := range s.Table.MissingChains() {
		lines = append(lines, fmt.Sprintf("+ nft chain %s %s %s", nft.Family, nft.TableName, c))
	}
	return lines
}

// Result summarizes one apply.
type Result struct {
	Routing     iproute.Changes
	Sysctls     iproute.Changes
	NftLoaded   bool
	DHCPChanged bool
	Restarted   string
	Status      Status
	Verified    bool
}

// Apply converges the host to plan: sysctls, the nftables table, uplink
// tables and rules, the rule map, the DHCP server, then a verify pass.
func (a *Applier) Apply(ctx context.Context, plan policy.Plan) (Result, error) {
	var res Result
	data := render.NewData(plan)

	c, err := iproute.ApplySysctls(ctx, a.exec, plan.WANInterfaces(), a.logger)
	res.Sysctls = c
	if err != nil {
		return res, fmt.Errorf("apply sysctls: %w", err)
	}

	loaded, err := a.applyNftables(ctx, data)
	res.NftLoaded = loaded
	if err != nil {
		return res, err
	}

	ruleMap := a.opts.RuleMapPath
	if a.opts.DryRun {
		ruleMap = ""
	}
	res.Routing, err = iproute.Apply(ctx, a.exec, a.routes, plan, iproute.Options{RuleMapPath: ruleMap, SkipSysctls: true}, a.logger)
	if err != nil {
		return res, err
	}

	res.DHCPChanged, res.Restarted, err = a.applyDHCP(ctx, plan, data)
	if err != nil {
		return res, err
	}

	if a.opts.DryRun {
		return res, nil
	}

	res.Status, err = a.Check(ctx, plan)
	if err != nil {
		return res, fmt.Errorf("verify: %w", err)
	}
	res.Verified = !res.Status.Drift()
	if !res.Verified {
		a.logger.Warn("state still differs from plan after apply", slog.Any("drift", res.Status.Lines()))
	}
	return res, nil
}

// Check reads routing and nftables state and compares it with plan.
func (a *Applier) Check(ctx context.Context, plan policy.Plan) (Status, error) {
	report, err := iproute.Verify(ctx, a.routes, plan)
	if err != nil {
		return Status{}, err
	}
	table, err := a.tables.Table(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Report: report, Table: table}, nil
}

// applyNftables loads the table when its rendered file changed or the
// kernel copy is missing or incomplete.
func (a *Applier) applyNftables(ctx context.Context, data render.Data) (bool, error) {
	body, err := a.renderer.Render(render.Nftables, data)
	if err != nil {
		return false, err
	}

	changed, restore, err := a.install(a.opts.NftablesPath, body)
	if err != nil {
		return false, err
	}

	if !changed {
		state, err := a.tables.Table(ctx)
		if err != nil {
			return false, err
		}
		if state.Healthy() {
			a.logger.Debug("nftables table up to date", slog.String("table", nft.TableName))
			return false, nil
		}
		a.logger.Info("nftables table needs reload",
			slog.Bool("exists", state.Exists),
			slog.Any("missing_chains", state.MissingChains()))
	}

	if err := nft.Apply(ctx, a.exec, body, a.logger); err != nil {
		return false, a.rollback(a.opts.NftablesPath, restore, err)
	}
	return true, nil
}

// applyDHCP writes the DHCP server configuration and restarts the server
// when the file changed.
func (a *Applier) applyDHCP(ctx context.Context, plan policy.Plan, data render.Data) (bool, string, error) {
	var name string
	switch a.opts.DHCPServer {
	case config.DHCPServerDnsmasq:
		name = render.Dnsmasq
	case config.DHCPServerDhcpd:
		name = render.Dhcpd
	default:
		return false, "", nil
	}
	if plan.DHCP == nil {
		a.logger.Warn("lan has no room for a dhcp pool, skipping dhcp server",
			slog.String("lan", plan.LAN.CIDR()))
		return false, "", nil
	}

	content, err := a.renderer.Render(name, data)
	if err != nil {
		return false, "", err
	}
	changed, restore, err := a.install(a.opts.DHCPConfigPath, content)
	if err != nil {
		return false, "", err
	}
	if !changed {
		return false, "", nil
	}

	unit, ok := service.UnitFor(a.opts.DHCPServer)
	if !ok {
		return true, "", nil
	}
	if a.opts.DryRun {
		return true, unit, a.services.Restart(ctx, unit)
	}
	if err := a.services.RestartAndVerify(ctx, unit); err != nil {
		return true, unit, a.rollback(a.opts.DHCPConfigPath, restore, err)
	}

	if a.opts.DHCPServer == config.DHCPServerDnsmasq && a.opts.ProbeDNS {
		if err := a.resolver.ProbeAny(ctx, []string{plan.LAN.Gateway.String()}); err != nil {
			err = fmt.Errorf("%s restarted but does not answer dns: %w", unit, err)
			return true, unit, a.rollback(a.opts.DHCPConfigPath, restore, err)
		}
		a.logger.Info("lan resolver answering", slog.String("address", plan.LAN.Gateway.String()))
	}
	return true, unit, nil
}

// install writes content to path and reports whether it differed. The
// returned restore puts the previous file back after a failed load or
// restart. Without a path there is nothing to compare against, so the
// content counts as new.
func (a *Applier) install(path, content string) (bool, func() error, error) {
	noop := func() error { return nil }
	if strings.TrimSpace(path) == "" {
		return true, noop, nil
	}
	if a.opts.DryRun {
		diff, err := render.Diff(path, content)
		if err != nil {
			return false, noop, err
		}
		return diff != "", noop, nil
	}

	prev, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, noop, fmt.Errorf("read %s: %w", path, err)
	}

	changed, err := render.WriteFile(path, content)
	if err != nil {
		return false, noop, err
	}
	if !changed {
		return false, noop, nil
	}
	a.logger.Info("file updated", slog.String("path", path))

	restore := func() error {
		if existed {
			_, err := render.WriteFile(path, string(prev))
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return true, restore, nil
}

// rollback restores path after cause and returns cause.
func (a *Applier) rollback(path string, restore func() error, cause error) error {
	if err := restore(); err != nil {
		a.logger.Error("failed to restore previous file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return errors.Join(cause, fmt.Errorf("restore %s: %w", path, err))
	}
	return cause
}
