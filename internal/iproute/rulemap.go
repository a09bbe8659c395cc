package iproute

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextrouter/nextrouter/internal/policy"
)

const ruleMapHeader = "# nextrouter rule map: priority selector table\n"

// WriteRuleMap records the installed rules for operators and the metrics
// endpoint. The file is replaced atomically.
func WriteRuleMap(path string, plan policy.Plan, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	clean := strings.TrimSpace(path)
	if clean == "" {
		return nil
	}
	if err := ValidateMapPath(clean); err != nil {
		return err
	}

	dir := filepath.Dir(clean)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rule map directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".rules.map-*")
	if err != nil {
		return fmt.Errorf("create rule map temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(ruleMapHeader + plan.RuleMap()); err != nil {
		tmp.Close()
		return fmt.Errorf("write rule map: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod rule map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rule map: %w", err)
	}
	if err := os.Rename(tmp.Name(), clean); err != nil {
		return fmt.Errorf("install rule map %s: %w", clean, err)
	}

	logger.Info("rule map written", slog.String("path", clean), slog.Int("rules", len(plan.Rules)))
	return nil
}

// ValidateMapPath rejects paths with parent directory components.
func ValidateMapPath(path string) error {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("rule map path %q contains unsupported traversal component", path)
		}
	}
	return nil
}
