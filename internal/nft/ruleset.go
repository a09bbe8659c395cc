package nft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextrouter/nextrouter/internal/executor"
)

// Table identity of the ruleset nextrouter owns.
const (
	Family    = "ip"
	TableName = "nextrouter"
)

// RequiredChains are the base chains the marking and NAT scheme needs.
var RequiredChains = []string{"prerouting", "output", "forward", "postrouting"}

// SwapScript prefixes body so that loading it replaces the table in one
// transaction. Declaring the table first makes the delete valid on a host
// where it does not exist yet.
func SwapScript(body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "table %s %s\n", Family, TableName)
	fmt.Fprintf(&b, "delete table %s %s\n", Family, TableName)
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

// Validate dry-runs a script with nft -c.
func Validate(ctx context.Context, exec executor.Executor, script string) error {
	if err := exec.RunWithInput(ctx, script, "nft", "-c", "-f", "-"); err != nil {
		return fmt.Errorf("validate nftables ruleset: %w", err)
	}
	return nil
}

// Apply validates and then loads the ruleset body as an atomic swap of the
// nextrouter table. Nothing is loaded when validation fails.
func Apply(ctx context.Context, exec executor.Executor, body string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("nftables ruleset is empty")
	}
	if strings.Contains(body, "flush ruleset") {
		return fmt.Errorf("nftables ruleset must not flush foreign tables")
	}

	script := SwapScript(body)
	if err := Validate(ctx, exec, script); err != nil {
		return err
	}

	logger.Info("loading nftables ruleset", slog.String("table", Family+" "+TableName), slog.Int("bytes", len(script)))
	if err := exec.RunWithInput(ctx, script, "nft", "-f", "-"); err != nil {
		return fmt.Errorf("load nftables ruleset: %w", err)
	}
	return nil
}
