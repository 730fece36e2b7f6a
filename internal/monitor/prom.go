package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sorz/moproxy-go/internal/core"
)

// PromCollector is a prometheus.Collector exposing the core's §6 metrics
// contract: per-upstream delay/score/traffic/connection counters and
// throughput, plus overall uptime. It scrapes core.ServerList and the
// Monitor's Meter directly at Collect time rather than maintaining its own
// GaugeVec, so upstreams added or removed by a reload (§4.7) never need
// explicit metric registration/unregistration.
type PromCollector struct {
	servers   *core.ServerList
	lifecycle *core.Lifecycle
	meter     *Meter

	delay     *prometheus.Desc
	score     *prometheus.Desc
	txBytes   *prometheus.Desc
	rxBytes   *prometheus.Desc
	connAlive *prometheus.Desc
	connTotal *prometheus.Desc
	connError *prometheus.Desc
	txBps     *prometheus.Desc
	rxBps     *prometheus.Desc
	uptime    *prometheus.Desc
}

// NewPromCollector builds a collector over servers, with lifecycle and
// meter optional (nil skips the metrics they'd otherwise contribute).
func NewPromCollector(servers *core.ServerList, lifecycle *core.Lifecycle, meter *Meter) *PromCollector {
	const ns = "moproxy"
	upstreamLabels := []string{"upstream"}
	return &PromCollector{
		servers:   servers,
		lifecycle: lifecycle,
		meter:     meter,
		delay: prometheus.NewDesc(ns+"_upstream_delay_ms", "Last measured alive-test delay in milliseconds.",
			upstreamLabels, nil),
		score: prometheus.NewDesc(ns+"_upstream_score", "Current effective sort score (lower is better).",
			upstreamLabels, nil),
		txBytes: prometheus.NewDesc(ns+"_upstream_tx_bytes_total", "Bytes sent to the upstream on behalf of clients.",
			upstreamLabels, nil),
		rxBytes: prometheus.NewDesc(ns+"_upstream_rx_bytes_total", "Bytes received from the upstream for clients.",
			upstreamLabels, nil),
		connAlive: prometheus.NewDesc(ns+"_upstream_connections_alive", "Currently open connections through this upstream.",
			upstreamLabels, nil),
		connTotal: prometheus.NewDesc(ns+"_upstream_connections_total", "Connections ever opened through this upstream.",
			upstreamLabels, nil),
		connError: prometheus.NewDesc(ns+"_upstream_connection_errors_total", "Connections through this upstream that ended in error.",
			upstreamLabels, nil),
		txBps: prometheus.NewDesc(ns+"_upstream_tx_bits_per_second", "Instantaneous outbound throughput.",
			upstreamLabels, nil),
		rxBps: prometheus.NewDesc(ns+"_upstream_rx_bits_per_second", "Instantaneous inbound throughput.",
			upstreamLabels, nil),
		uptime: prometheus.NewDesc(ns+"_uptime_seconds", "Seconds since the relay entered the active state.", nil, nil),
	}
}

func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.delay
	ch <- c.score
	ch <- c.txBytes
	ch <- c.rxBytes
	ch <- c.connAlive
	ch <- c.connTotal
	ch <- c.connError
	ch <- c.txBps
	ch <- c.rxBps
	ch <- c.uptime
}

func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	var throughputs map[string]Throughput
	if c.meter != nil {
		throughputs = c.meter.Throughputs()
	}

	for _, u := range c.servers.Servers() {
		snap := u.Status.Snapshot()
		if snap.DelayOK {
			ch <- prometheus.MustNewConstMetric(c.delay, prometheus.GaugeValue, float64(snap.Delay.Milliseconds()), u.Tag)
		}
		if snap.ScoreOK {
			ch <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, float64(snap.Score), u.Tag)
		}
		ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(snap.TxBytes), u.Tag)
		ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(snap.RxBytes), u.Tag)
		ch <- prometheus.MustNewConstMetric(c.connAlive, prometheus.GaugeValue, float64(snap.ConnAlive), u.Tag)
		ch <- prometheus.MustNewConstMetric(c.connTotal, prometheus.CounterValue, float64(snap.ConnTotal), u.Tag)
		ch <- prometheus.MustNewConstMetric(c.connError, prometheus.CounterValue, float64(snap.ConnError), u.Tag)
		if t, ok := throughputs[u.Tag]; ok {
			ch <- prometheus.MustNewConstMetric(c.txBps, prometheus.GaugeValue, t.TxBps, u.Tag)
			ch <- prometheus.MustNewConstMetric(c.rxBps, prometheus.GaugeValue, t.RxBps, u.Tag)
		}
	}

	if c.lifecycle != nil {
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, c.lifecycle.Uptime().Seconds())
	}
}
