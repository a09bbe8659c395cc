package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/nextrouter/nextrouter/internal/config"
	"github.com/nextrouter/nextrouter/internal/executor"
	"github.com/nextrouter/nextrouter/internal/iproute"
	"github.com/nextrouter/nextrouter/internal/logging"
	"github.com/nextrouter/nextrouter/internal/nft"
	"github.com/nextrouter/nextrouter/internal/policy"
	"github.com/nextrouter/nextrouter/internal/reconcile"
	"github.com/nextrouter/nextrouter/internal/render"
)

// newExecutor is swapped out by tests.
var newExecutor = executor.NewExecutor

// loadPlan reads the configuration and builds the plan it describes.
func loadPlan(v *viper.Viper) (config.Config, policy.Plan, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return config.Config{}, policy.Plan{}, err
	}
	topo, err := cfg.Topology()
	if err != nil {
		return config.Config{}, policy.Plan{}, err
	}
	plan, err := policy.Build(topo)
	if err != nil {
		return config.Config{}, policy.Plan{}, err
	}
	return cfg, plan, nil
}

// newInspectors returns the kernel state readers selected by the inspector
// key. The ip backend parses command output through exec.
func newInspectors(cfg config.Config, exec executor.Executor) (iproute.Inspector, nft.TableInspector, error) {
	switch cfg.Inspector {
	case "", config.InspectorIP:
		return iproute.NewCommandInspector(exec), nft.NewCommandTableInspector(exec), nil
	case config.InspectorNetlink:
		routes, err := iproute.NewNetlinkInspector()
		if err != nil {
			return nil, nil, err
		}
		tables, err := nft.NewNetlinkTableInspector()
		if err != nil {
			return nil, nil, err
		}
		return routes, tables, nil
	default:
		return nil, nil, fmt.Errorf("unknown inspector %q (want %s or %s)", cfg.Inspector, config.InspectorIP, config.InspectorNetlink)
	}
}

// newCounterReader returns the traffic counter reader matching the
// inspector key.
func newCounterReader(cfg config.Config, exec executor.Executor) (nft.CounterReader, error) {
	switch cfg.Inspector {
	case "", config.InspectorIP:
		return nft.NewCommandCounterReader(exec), nil
	case config.InspectorNetlink:
		reader, err := nft.NewNetlinkCounterReader()
		if err != nil {
			return nil, err
		}
		return reader, nil
	default:
		return nil, fmt.Errorf("unknown inspector %q (want %s or %s)", cfg.Inspector, config.InspectorIP, config.InspectorNetlink)
	}
}

// newApplier wires an Applier for cfg on top of exec.
func newApplier(cfg config.Config, exec executor.Executor, dryRun bool) (*reconcile.Applier, error) {
	routes, tables, err := newInspectors(cfg, exec)
	if err != nil {
		return nil, err
	}
	return reconcile.NewApplier(reconcile.Deps{
		Exec:     exec,
		Routes:   routes,
		Tables:   tables,
		Renderer: render.NewRenderer(cfg.TemplateDir),
		Logger:   logging.GetLogger(),
	}, reconcile.Options{
		NftablesPath:   cfg.NftablesPath,
		DHCPConfigPath: cfg.DHCPConfigPath,
		DHCPServer:     cfg.DHCPServer,
		RuleMapPath:    cfg.RuleMapPath,
		ProbeDNS:       cfg.ProbeDNS,
		DryRun:         dryRun,
	})
}

// dhcpTemplate maps the configured DHCP server to its template name.
func dhcpTemplate(server string) (string, bool) {
	switch server {
	case config.DHCPServerDnsmasq:
		return render.Dnsmasq, true
	case config.DHCPServerDhcpd:
		return render.Dhcpd, true
	default:
		return "", false
	}
}
