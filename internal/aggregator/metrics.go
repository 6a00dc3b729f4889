package aggregator

import "github.com/prometheus/client_golang/prometheus"

// metrics is the internal-metrics surface (Component K in SPEC_FULL): a
// small set of counters and gauges mirroring what the teacher plugin tracks
// via selfstat, exposed here as Prometheus collectors instead since that's
// the exposition format the rest of the corpus reaches for.
type metrics struct {
	datagramsReceived prometheus.Counter
	linesReceived     prometheus.Counter
	parseErrors       prometheus.Counter
	ringOverflows     prometheus.Counter
	flushesTotal      prometheus.Counter
	packetsSent       prometheus.Counter
	sendErrors        prometheus.Counter
	bytesSent         prometheus.Counter
	dnsRefreshErrors  prometheus.Counter

	activeBytes prometheus.Gauge
	slotsUsed   prometheus.Gauge
}

func newMetrics() *metrics {
	const ns = "statsd_aggregator"
	return &metrics{
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "datagrams_received_total",
			Help: "UDP datagrams received on the data socket.",
		}),
		linesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "lines_received_total",
			Help: "Statsd lines extracted from received datagrams.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "parse_errors_total",
			Help: "Lines or segments dropped for malformed input.",
		}),
		ringOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "ring_overflows_total",
			Help: "Packets dropped because the send ring could not keep up.",
		}),
		flushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "flushes_total",
			Help: "Times the active packet was closed and queued for send.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "packets_sent_total",
			Help: "Packets successfully handed to sendto().",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "send_errors_total",
			Help: "sendto() failures; the packet is still considered sent.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "bytes_sent_total",
			Help: "Bytes in packets successfully handed to sendto().",
		}),
		dnsRefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "dns_refresh_errors_total",
			Help: "Periodic downstream DNS re-resolution failures.",
		}),
		activeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_packet_bytes",
			Help: "Projected size of the packet currently being filled.",
		}),
		slotsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "slots_used",
			Help: "Slot Table entries in use for the current packet.",
		}),
	}
}

// Collectors returns every collector for registration with a
// prometheus.Registerer.
func (m *metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.datagramsReceived,
		m.linesReceived,
		m.parseErrors,
		m.ringOverflows,
		m.flushesTotal,
		m.packetsSent,
		m.sendErrors,
		m.bytesSent,
		m.dnsRefreshErrors,
		m.activeBytes,
		m.slotsUsed,
	}
}
