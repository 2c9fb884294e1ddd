package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// statusCollector implements prometheus.Collector, reading the
// controller snapshot on each scrape.
type statusCollector struct {
	srv *Server

	linkUp         *prometheus.Desc
	linkRaAttached *prometheus.Desc
	radvdPrefixes  *prometheus.Desc
	tunnelInfo     *prometheus.Desc
	uptimeSeconds  *prometheus.Desc
}

func newCollector(srv *Server) *statusCollector {
	return &statusCollector{
		srv: srv,
		linkUp: prometheus.NewDesc(
			"homegw_link_up",
			"Operational state of a tracked link (1 = up).",
			[]string{"link", "role"}, nil,
		),
		linkRaAttached: prometheus.NewDesc(
			"homegw_link_ra_attached",
			"Whether a tracked link holds a global IPv6 address.",
			[]string{"link", "role"}, nil,
		),
		radvdPrefixes: prometheus.NewDesc(
			"homegw_radvd_prefixes",
			"Prefixes announced on a downlink.",
			[]string{"link"}, nil,
		),
		tunnelInfo: prometheus.NewDesc(
			"homegw_tunnel_info",
			"Established tunnel, labelled by client address.",
			[]string{"device", "client_ip", "peer_ip"}, nil,
		),
		uptimeSeconds: prometheus.NewDesc(
			"homegw_api_uptime_seconds",
			"Seconds since the API server started.",
			nil, nil,
		),
	}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.linkUp
	ch <- c.linkRaAttached
	ch <- c.radvdPrefixes
	ch <- c.tunnelInfo
	ch <- c.uptimeSeconds
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue,
		time.Since(c.srv.startTime).Seconds())

	st := c.srv.snapshot()
	if st == nil {
		return
	}
	for _, l := range st.Links {
		ch <- prometheus.MustNewConstMetric(c.linkUp, prometheus.GaugeValue, boolFloat(l.OperUp), l.Name, l.Role)
		ch <- prometheus.MustNewConstMetric(c.linkRaAttached, prometheus.GaugeValue, boolFloat(l.RaAttached), l.Name, l.Role)
	}
	for _, r := range st.Radvd {
		ch <- prometheus.MustNewConstMetric(c.radvdPrefixes, prometheus.GaugeValue, float64(len(r.Prefixes)), r.Link)
	}
	for _, t := range st.Tunnels {
		ch <- prometheus.MustNewConstMetric(c.tunnelInfo, prometheus.GaugeValue, 1, t.Device, t.ClientIP, t.PeerIP)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
