package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors for a NetworkManager. No
// component in cubenet exposes an HTTP /metrics endpoint (the pretty
// CLI and tracker front-ends that would consume this are explicit
// Non-goals, spec.md §1); Registry is given to whatever embedding
// process wants to expose it. CubesStored and PeersBlacklisted are
// registered with the rest, but nothing in this package sets them;
// they stay at 0 unless the embedding process updates them.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal   *prometheus.CounterVec
	ConnectionsCurrent prometheus.Gauge
	BytesTx            prometheus.Counter
	BytesRx            prometheus.Counter
	MessagesByClass    *prometheus.CounterVec
	CubesStored        prometheus.Gauge
	PeersBlacklisted   prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cubenet",
			Name:      "connections_total",
			Help:      "Total connection attempts by outcome.",
		}, []string{"outcome"}),
		ConnectionsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cubenet",
			Name:      "connections_current",
			Help:      "Currently live peer connections.",
		}),
		BytesTx: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cubenet",
			Name:      "bytes_tx_total",
			Help:      "Total bytes sent across all peers.",
		}),
		BytesRx: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cubenet",
			Name:      "bytes_rx_total",
			Help:      "Total bytes received across all peers.",
		}),
		MessagesByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cubenet",
			Name:      "messages_total",
			Help:      "Messages processed, by message class and direction.",
		}, []string{"class", "direction"}),
		CubesStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cubenet",
			Name:      "cubes_stored",
			Help:      "Number of cubes currently held in the local CubeStore.",
		}),
		PeersBlacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cubenet",
			Name:      "peers_blacklisted",
			Help:      "Number of addresses currently blacklisted.",
		}),
	}
	reg.MustRegister(m.ConnectionsTotal, m.ConnectionsCurrent, m.BytesTx, m.BytesRx,
		m.MessagesByClass, m.CubesStored, m.PeersBlacklisted)
	return m
}

// ObservePeer folds a NetworkPeer's current counters into the
// cumulative message-class series. Counters are monotonic per peer, so
// callers should call this once at peer close with the peer's final
// snapshot rather than polling repeatedly (which would double-count).
func (m *Metrics) ObservePeer(c Counters) {
	m.BytesTx.Add(float64(c.TxBytes))
	m.BytesRx.Add(float64(c.RxBytes))
	for class, n := range c.TxByClass {
		m.MessagesByClass.WithLabelValues(class.String(), "tx").Add(float64(n))
	}
	for class, n := range c.RxByClass {
		m.MessagesByClass.WithLabelValues(class.String(), "rx").Add(float64(n))
	}
}
