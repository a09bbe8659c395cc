package nft

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/nextrouter/nextrouter/internal/executor"
)

// TableState is what the kernel holds for the nextrouter table.
type TableState struct {
	Exists bool
	Chains []string
}

// MissingChains returns the required chains absent from s.
func (s TableState) MissingChains() []string {
	have := make(map[string]bool, len(s.Chains))
	for _, c := range s.Chains {
		have[c] = true
	}
	var missing []string
	for _, c := range RequiredChains {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// Healthy reports whether the table exists with every required chain.
func (s TableState) Healthy() bool {
	return s.Exists && len(s.MissingChains()) == 0
}

// TableInspector reads the nextrouter table back from the kernel.
type TableInspector interface {
	Table(ctx context.Context) (TableState, error)
}

// CommandTableInspector parses `nft list table` output.
type CommandTableInspector struct {
	Exec executor.Executor
}

// NewCommandTableInspector constructs an inspector backed by exec.
func NewCommandTableInspector(exec executor.Executor) *CommandTableInspector {
	return &CommandTableInspector{Exec: exec}
}

// Table lists the nextrouter table. A missing table is not an error.
func (c *CommandTableInspector) Table(ctx context.Context) (TableState, error) {
	out, err := c.Exec.Output(ctx, "nft", "list", "table", Family, TableName)
	if err != nil {
		if executor.IsNotFound(err) {
			return TableState{}, nil
		}
		return TableState{}, fmt.Errorf("list nftables table: %w", err)
	}
	return ParseTable(out), nil
}

// ParseTable extracts chain names from `nft list table` output.
func ParseTable(out string) TableState {
	state := TableState{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "table":
			state.Exists = true
		case "chain":
			state.Chains = append(state.Chains, fields[1])
		}
	}
	return state
}
