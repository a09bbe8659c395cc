//go:build !linux

package nft

import (
	"context"
	"errors"
)

var errNetlinkUnsupported = errors.New("nftables netlink inspector is only available on linux")

// NetlinkTableInspector is unavailable outside linux; use CommandTableInspector.
type NetlinkTableInspector struct{}

// NewNetlinkTableInspector always fails outside linux.
func NewNetlinkTableInspector() (*NetlinkTableInspector, error) {
	return nil, errNetlinkUnsupported
}

func (n *NetlinkTableInspector) Table(context.Context) (TableState, error) {
	return TableState{}, errNetlinkUnsupported
}
