package controller

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	events    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	links     *prometheus.GaugeVec
	delegated prometheus.Gauge
	radvd     prometheus.Gauge
	tunnels   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homegw_events_total",
			Help: "Events processed by the controller loop.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homegw_operation_failures_total",
			Help: "Failed external operations.",
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homegw_retries_total",
			Help: "Scheduled RA attachment retries.",
		}, []string{"link"}),
		links: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homegw_links",
			Help: "Tracked links.",
		}, []string{"role"}),
		delegated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homegw_delegated_prefixes",
			Help: "Prefixes currently delegated to uplinks.",
		}),
		radvd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homegw_radvd_running",
			Help: "Running RA daemons.",
		}),
		tunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homegw_tunnels",
			Help: "Established tunnels.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.failures, m.retries, m.links, m.delegated, m.radvd, m.tunnels)
	}
	return m
}
