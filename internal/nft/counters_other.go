//go:build !linux

package nft

import "context"

// NetlinkCounterReader is unavailable outside linux; use CommandCounterReader.
type NetlinkCounterReader struct{}

// NewNetlinkCounterReader always fails outside linux.
func NewNetlinkCounterReader() (*NetlinkCounterReader, error) {
	return nil, errNetlinkUnsupported
}

func (n *NetlinkCounterReader) Counters(context.Context) ([]Counter, error) {
	return nil, errNetlinkUnsupported
}
