package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/nextrouter/nextrouter/internal/policy"
)

// Result is the outcome of probing one uplink gateway.
type Result struct {
	Uplink  string
	Target  string
	Up      bool
	Skipped bool
	Loss    float64
	RTT     time.Duration
	Err     error
}

// PingStats is what a single ping run reports.
type PingStats struct {
	Sent int
	Recv int
	Loss float64
	Avg  time.Duration
}

// PingFunc sends count echo requests to target through iface.
type PingFunc func(ctx context.Context, target, iface string, count int, timeout time.Duration) (PingStats, error)

// Ping is the pro-bing backed PingFunc. It uses unprivileged UDP pings.
func Ping(ctx context.Context, target, iface string, count int, timeout time.Duration) (PingStats, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return PingStats{}, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = count
	pinger.Timeout = timeout
	pinger.InterfaceName = iface
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return PingStats{}, err
	}

	stats := pinger.Statistics()
	return PingStats{
		Sent: stats.PacketsSent,
		Recv: stats.PacketsRecv,
		Loss: stats.PacketLoss,
		Avg:  stats.AvgRtt,
	}, nil
}

// GatewayProber pings the gateway of every uplink in a plan.
type GatewayProber struct {
	Count   int
	Timeout time.Duration

	ping   PingFunc
	logger *slog.Logger
}

// NewGatewayProber constructs a prober. A nil ping uses Ping.
func NewGatewayProber(timeout time.Duration, ping PingFunc, logger *slog.Logger) *GatewayProber {
	if ping == nil {
		ping = Ping
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayProber{Count: 3, Timeout: timeout, ping: ping, logger: logger}
}

// Probe checks each uplink in order. Uplinks without a gateway are
// point-to-point links and are reported as skipped.
func (g *GatewayProber) Probe(ctx context.Context, uplinks []policy.PlannedUplink) []Result {
	results := make([]Result, 0, len(uplinks))
	for _, up := range uplinks {
		res := Result{Uplink: up.Name, Target: up.Gateway}
		if up.Gateway == "" {
			res.Skipped = true
			results = append(results, res)
			continue
		}

		stats, err := g.ping(ctx, up.Gateway, up.Interface, g.Count, g.Timeout)
		switch {
		case err != nil:
			res.Err = err
			res.Loss = 100
			g.logger.Warn("gateway probe failed",
				slog.String("uplink", up.Name),
				slog.String("gateway", up.Gateway),
				slog.String("error", err.Error()))
		case stats.Recv == 0:
			res.Loss = 100
			res.Err = fmt.Errorf("no replies from %s", up.Gateway)
			g.logger.Warn("gateway unreachable",
				slog.String("uplink", up.Name),
				slog.String("gateway", up.Gateway))
		default:
			res.Up = true
			res.Loss = stats.Loss
			res.RTT = stats.Avg
			g.logger.Debug("gateway reachable",
				slog.String("uplink", up.Name),
				slog.Duration("rtt", stats.Avg),
				slog.Float64("loss", stats.Loss))
		}
		results = append(results, res)
	}
	return results
}
