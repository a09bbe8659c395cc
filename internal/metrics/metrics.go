package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nextrouter"

// Reconcile results recorded by ObserveReconcile.
const (
	ResultConverged = "converged"
	ResultRepaired  = "repaired"
	ResultFailed    = "failed"
)

// Metrics bundles the Prometheus instruments of the watch loop.
type Metrics struct {
	registry       *prometheus.Registry
	rulesDesired   prometheus.Gauge
	drift          prometheus.Gauge
	reconcileTotal *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	uplinkUp       *prometheus.GaugeVec
	uplinkRTT      *prometheus.GaugeVec
	ruleMapEntries prometheus.Gauge
	traffic        *trafficCollector
}

// NewMetrics constructs a Metrics instance with an isolated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		rulesDesired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_desired",
			Help:      "Number of policy rules in the current plan.",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift",
			Help:      "Whether the last verify pass found kernel state differing from the plan (1) or not (0).",
		}),
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Reconcile passes by result.",
		}, []string{"result"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		}, []string{"type"}),
		uplinkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_up",
			Help:      "Whether the uplink gateway answered the last probe.",
		}, []string{"uplink"}),
		uplinkRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_rtt_seconds",
			Help:      "Average round trip time to the uplink gateway in the last probe.",
		}, []string{"uplink"}),
		ruleMapEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_map_entries",
			Help:      "Number of rules recorded in the rule map file.",
		}),
		traffic: newTrafficCollector(),
	}

	registry.MustRegister(m.rulesDesired, m.drift, m.reconcileTotal, m.errorsTotal,
		m.uplinkUp, m.uplinkRTT, m.ruleMapEntries, m.traffic)
	return m
}

// SetRulesDesired records the number of rules in the plan.
func (m *Metrics) SetRulesDesired(count int) {
	m.rulesDesired.Set(float64(count))
}

// SetDrift updates the drift gauge.
func (m *Metrics) SetDrift(drift bool) {
	if drift {
		m.drift.Set(1)
		return
	}
	m.drift.Set(0)
}

// ObserveReconcile counts one reconcile pass.
func (m *Metrics) ObserveReconcile(result string) {
	m.reconcileTotal.WithLabelValues(result).Inc()
}

// IncrementError increments the error counter for the provided type label.
func (m *Metrics) IncrementError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// SetUplink records the outcome of probing one uplink. The RTT gauge is
// left untouched while the uplink is down.
func (m *Metrics) SetUplink(name string, up bool, rttSeconds float64) {
	if !up {
		m.uplinkUp.WithLabelValues(name).Set(0)
		return
	}
	m.uplinkUp.WithLabelValues(name).Set(1)
	m.uplinkRTT.WithLabelValues(name).Set(rttSeconds)
}

// SetRuleMapEntries records the number of entries found in the rule map.
func (m *Metrics) SetRuleMapEntries(count int) {
	m.ruleMapEntries.Set(float64(count))
}

// SetTraffic replaces the exported counter readings. Counters absent from
// samples stop being exported.
func (m *Metrics) SetTraffic(samples []TrafficSample) {
	m.traffic.set(samples)
}

// Handler exposes the Prometheus scrape handler bound to the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
