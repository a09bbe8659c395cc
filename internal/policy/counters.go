package policy

import "fmt"

// Traffic directions measured on each uplink.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// Counter ties a named nft counter to what it measures. Source is set for
// the counters of pinned sources, which measure traffic sent out the uplink.
type Counter struct {
	Name      string `yaml:"name"`
	Uplink    string `yaml:"uplink"`
	Direction string `yaml:"direction"`
	Source    string `yaml:"source,omitempty"`
}

// CounterName names the uplink counter for direction.
func (u PlannedUplink) CounterName(direction string) string {
	return fmt.Sprintf("wan%d_%s", u.Mark-1, direction)
}

// SourceCounterName names the counter of the i-th pinned source.
func (u PlannedUplink) SourceCounterName(i int) string {
	return fmt.Sprintf("wan%d_src%d", u.Mark-1, i)
}

// Counters lists every named counter the nftables table declares, in
// declaration order.
func (p Plan) Counters() []Counter {
	var out []Counter
	for _, u := range p.Uplinks {
		out = append(out,
			Counter{Name: u.CounterName(DirectionRx), Uplink: u.Name, Direction: DirectionRx},
			Counter{Name: u.CounterName(DirectionTx), Uplink: u.Name, Direction: DirectionTx},
		)
		for i, src := range u.Sources {
			out = append(out, Counter{Name: u.SourceCounterName(i), Uplink: u.Name, Direction: DirectionTx, Source: src})
		}
	}
	return out
}
