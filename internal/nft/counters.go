package nft

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextrouter/nextrouter/internal/executor"
)

// Counter is a named counter of the nextrouter table.
type Counter struct {
	Name    string
	Packets uint64
	Bytes   uint64
}

// CounterReader lists the named counters of the nextrouter table.
type CounterReader interface {
	Counters(ctx context.Context) ([]Counter, error)
}

// CommandCounterReader parses `nft list counters` output.
type CommandCounterReader struct {
	Exec executor.Executor
}

// NewCommandCounterReader constructs a reader backed by exec.
func NewCommandCounterReader(exec executor.Executor) *CommandCounterReader {
	return &CommandCounterReader{Exec: exec}
}

// Counters lists the counters. A missing table has none.
func (c *CommandCounterReader) Counters(ctx context.Context) ([]Counter, error) {
	out, err := c.Exec.Output(ctx, "nft", "list", "counters", "table", Family, TableName)
	if err != nil {
		if executor.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list nftables counters: %w", err)
	}
	return ParseCounters(out)
}

// ParseCounters reads counter blocks such as
//
//	counter wan0_rx {
//		packets 12 bytes 3456
//	}
func ParseCounters(out string) ([]Counter, error) {
	var counters []Counter
	current := -1

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "counter":
			if len(fields) < 2 {
				return nil, fmt.Errorf("unexpected counter line %q", scanner.Text())
			}
			counters = append(counters, Counter{Name: fields[1]})
			current = len(counters) - 1
		case "packets":
			if current < 0 {
				return nil, fmt.Errorf("counter values outside a counter block: %q", scanner.Text())
			}
			for i := 0; i+1 < len(fields); i += 2 {
				n, err := strconv.ParseUint(fields[i+1], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("counter %s: invalid %s %q", counters[current].Name, fields[i], fields[i+1])
				}
				switch fields[i] {
				case "packets":
					counters[current].Packets = n
				case "bytes":
					counters[current].Bytes = n
				}
			}
		case "}":
			current = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan counters: %w", err)
	}
	return counters, nil
}
