package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextrouter/nextrouter/internal/executor"
)

// Manager drives systemd units through systemctl.
type Manager struct {
	exec   executor.Executor
	logger *slog.Logger

	// Settle is how long to wait after a restart before checking the unit.
	Settle time.Duration
	// Attempts bounds how often the active check is repeated.
	Attempts int
}

// NewManager constructs a Manager.
func NewManager(exec executor.Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{exec: exec, logger: logger, Settle: 500 * time.Millisecond, Attempts: 5}
}

// Restart restarts unit.
func (m *Manager) Restart(ctx context.Context, unit string) error {
	m.logger.Info("restarting service", slog.String("unit", unit))
	if err := m.exec.Run(ctx, "systemctl", "restart", unit); err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	return nil
}

// IsActive reports whether unit is active. systemctl exits non-zero for
// inactive units, which is not an error here.
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := m.exec.Output(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(out)
	if err != nil {
		if _, ok := executor.ExitCode(err); ok {
			return false, nil
		}
		return false, fmt.Errorf("query %s: %w", unit, err)
	}
	return state == "active", nil
}

// RestartAndVerify restarts unit and waits until it reports active.
func (m *Manager) RestartAndVerify(ctx context.Context, unit string) error {
	if err := m.Restart(ctx, unit); err != nil {
		return err
	}

	attempts := m.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if m.Settle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.Settle):
			}
		}

		active, err := m.IsActive(ctx, unit)
		if err != nil {
			return err
		}
		if active {
			m.logger.Info("service active", slog.String("unit", unit))
			return nil
		}
		m.logger.Debug("service not active yet", slog.String("unit", unit), slog.Int("attempt", i+1))
	}
	return fmt.Errorf("service %s did not become active after restart", unit)
}

// UnitFor maps a DHCP server flavour to its systemd unit.
func UnitFor(server string) (string, bool) {
	switch server {
	case "dnsmasq":
		return "dnsmasq.service", true
	case "dhcpd":
		return "isc-dhcp-server.service", true
	default:
		return "", false
	}
}
