//go:build linux

package nft

import (
	"context"
	"fmt"

	"github.com/google/nftables"
)

// NetlinkTableInspector reads the table over nfnetlink.
type NetlinkTableInspector struct{}

// NewNetlinkTableInspector returns an inspector that talks to nf_tables directly.
func NewNetlinkTableInspector() (*NetlinkTableInspector, error) {
	return &NetlinkTableInspector{}, nil
}

// Table reports whether the nextrouter table exists and which chains it holds.
func (n *NetlinkTableInspector) Table(ctx context.Context) (TableState, error) {
	if err := ctx.Err(); err != nil {
		return TableState{}, err
	}

	conn, err := nftables.New()
	if err != nil {
		return TableState{}, fmt.Errorf("open nftables connection: %w", err)
	}

	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return TableState{}, fmt.Errorf("list nftables tables: %w", err)
	}

	state := TableState{}
	for _, t := range tables {
		if t.Name == TableName {
			state.Exists = true
			break
		}
	}
	if !state.Exists {
		return state, nil
	}

	chains, err := conn.ListChainsOfTableFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return TableState{}, fmt.Errorf("list nftables chains: %w", err)
	}
	for _, c := range chains {
		if c.Table != nil && c.Table.Name == TableName {
			state.Chains = append(state.Chains, c.Name)
		}
	}
	return state, nil
}
