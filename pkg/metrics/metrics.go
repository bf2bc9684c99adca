// Package metrics exposes Prometheus instrumentation for the DHCPv6
// server core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	RepliesSent     *prometheus.CounterVec
	ParseFailures   prometheus.Counter
	SanityFailures  prometheus.Counter
	CalloutSkips    *prometheus.CounterVec

	ActiveLeases      prometheus.Gauge
	ConfiguredSubnets prometheus.Gauge
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhcp6_packets_received_total",
			Help: "DHCPv6 packets received, by message type",
		}, []string{"type"}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhcp6_packets_dropped_total",
			Help: "DHCPv6 packets dropped before a reply was built, by reason",
		}, []string{"reason"}),

		RepliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhcp6_replies_sent_total",
			Help: "DHCPv6 replies transmitted, by message type",
		}, []string{"type"}),

		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcp6_parse_failures_total",
			Help: "Inbound buffers that failed DHCPv6 parsing",
		}),

		SanityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcp6_sanity_failures_total",
			Help: "Messages dropped by the RFC 3315 sanity checks",
		}),

		CalloutSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhcp6_callout_skips_total",
			Help: "Callout chains that set the skip flag, by hook point",
		}, []string{"hook"}),

		ActiveLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhcp6_active_leases",
			Help: "Leases currently held in the store",
		}),

		ConfiguredSubnets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhcp6_configured_subnets",
			Help: "Subnets currently configured",
		}),
	}

	m.registry.MustRegister(
		m.PacketsReceived,
		m.PacketsDropped,
		m.RepliesSent,
		m.ParseFailures,
		m.SanityFailures,
		m.CalloutSkips,
		m.ActiveLeases,
		m.ConfiguredSubnets,
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
