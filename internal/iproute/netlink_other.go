//go:build !linux

package iproute

import (
	"context"
	"errors"
)

var errNetlinkUnsupported = errors.New("netlink inspector is only available on linux")

// NetlinkInspector is unavailable outside linux.
type NetlinkInspector struct{}

// NewNetlinkInspector always fails outside linux.
func NewNetlinkInspector() (*NetlinkInspector, error) {
	return nil, errNetlinkUnsupported
}

func (n *NetlinkInspector) Rules(context.Context) ([]KernelRule, error) {
	return nil, errNetlinkUnsupported
}

func (n *NetlinkInspector) Routes(context.Context, int) ([]KernelRoute, error) {
	return nil, errNetlinkUnsupported
}
