package genet

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors a Host reports through,
// grounded on runZeroInc-conniver/-sockstats (socket-level instrumentation
// via prometheus/client_golang) and nabbar-golib's prometheus package
// (registerer-injection pattern), per SPEC_FULL.md §3.
type Metrics struct {
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	packetsSent      prometheus.Counter
	packetsReceived  prometheus.Counter
	packetsRetransmitted prometheus.Counter
	connectedPeers   prometheus.Gauge
	roundTripTime    prometheus.Histogram
}

// newMetrics builds and, if reg is non-nil, registers a fresh Metrics
// bundle. A nil Registerer yields working-but-unregistered collectors
// so callers that don't care about metrics pay no cost beyond the
// allocation.
func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genet_bytes_sent_total", Help: "Total bytes sent across all peers.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genet_bytes_received_total", Help: "Total bytes received across all peers.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genet_packets_sent_total", Help: "Total datagrams sent.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genet_packets_received_total", Help: "Total datagrams received.",
		}),
		packetsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genet_packets_retransmitted_total", Help: "Total reliable command retransmits.",
		}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genet_connected_peers", Help: "Currently connected peers.",
		}),
		roundTripTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "genet_round_trip_time_seconds", Help: "Per-ack observed round-trip time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.bytesSent, m.bytesReceived, m.packetsSent,
			m.packetsReceived, m.packetsRetransmitted, m.connectedPeers, m.roundTripTime)
	}
	return m
}
