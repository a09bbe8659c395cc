package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TrafficSample is one reading of an nft counter. Source is empty for the
// per-uplink counters.
type TrafficSample struct {
	Uplink    string
	Direction string
	Source    string
	Packets   uint64
	Bytes     uint64
}

// trafficCollector exports the latest counter readings as counters. The
// kernel counters restart from zero when the table is reloaded, which
// Prometheus treats as a counter reset.
type trafficCollector struct {
	mu      sync.RWMutex
	samples []TrafficSample

	bytes       *prometheus.Desc
	packets     *prometheus.Desc
	sourceBytes *prometheus.Desc
}

func newTrafficCollector() *trafficCollector {
	return &trafficCollector{
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "uplink", "bytes_total"),
			"Bytes seen on the uplink by direction since the table was loaded.",
			[]string{"uplink", "direction"}, nil),
		packets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "uplink", "packets_total"),
			"Packets seen on the uplink by direction since the table was loaded.",
			[]string{"uplink", "direction"}, nil),
		sourceBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "source", "bytes_total"),
			"Bytes a pinned LAN source sent out its uplink since the table was loaded.",
			[]string{"uplink", "source"}, nil),
	}
}

func (c *trafficCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.packets
	ch <- c.sourceBytes
}

func (c *trafficCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.samples {
		if s.Source != "" {
			ch <- prometheus.MustNewConstMetric(c.sourceBytes, prometheus.CounterValue, float64(s.Bytes), s.Uplink, s.Source)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.Bytes), s.Uplink, s.Direction)
		ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(s.Packets), s.Uplink, s.Direction)
	}
}

func (c *trafficCollector) set(samples []TrafficSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append([]TrafficSample(nil), samples...)
}
