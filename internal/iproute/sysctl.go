package iproute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextrouter/nextrouter/internal/executor"
)

// Sysctl is a kernel parameter and the value nextrouter requires.
type Sysctl struct {
	Key   string
	Value string
}

// RequiredSysctls returns forwarding on and loose reverse path filtering for
// all interfaces and each WAN. Strict rp_filter drops replies arriving on the
// uplink that is not the main table's default.
func RequiredSysctls(wans []string) []Sysctl {
	out := []Sysctl{
		{Key: "net.ipv4.ip_forward", Value: "1"},
		{Key: "net.ipv4.conf.all.rp_filter", Value: "2"},
	}
	for _, wan := range wans {
		out = append(out, Sysctl{Key: interfaceKey(wan, "rp_filter"), Value: "2"})
	}
	return out
}

// interfaceKey builds a per-interface key. Names containing dots (VLANs) use
// the slash separated form sysctl(8) accepts.
func interfaceKey(iface, param string) string {
	if strings.Contains(iface, ".") {
		return "net/ipv4/conf/" + iface + "/" + param
	}
	return "net.ipv4.conf." + iface + "." + param
}

// ApplySysctls writes each parameter whose current value differs.
func ApplySysctls(ctx context.Context, exec executor.Executor, wans []string, logger *slog.Logger) (Changes, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var changes Changes
	for _, s := range RequiredSysctls(wans) {
		if err := ctx.Err(); err != nil {
			return changes, err
		}

		current, err := exec.Output(ctx, "sysctl", "-n", s.Key)
		if err == nil && strings.TrimSpace(current) == s.Value {
			logger.Debug("sysctl already set", slog.String("key", s.Key), slog.String("value", s.Value))
			changes.Unchanged++
			continue
		}

		logger.Info("setting sysctl", slog.String("key", s.Key), slog.String("value", s.Value))
		if err := exec.Run(ctx, "sysctl", "-w", s.Key+"="+s.Value); err != nil {
			return changes, fmt.Errorf("set %s: %w", s.Key, err)
		}
		changes.Added++
	}
	return changes, nil
}
