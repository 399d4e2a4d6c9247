// Package metrics exports the RTP/RTCP media-transport core's counters,
// gauges, and histograms as Prometheus collectors (module table's ambient
// "internal/metrics" package).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/rtprtcp/internal/rtperr"
)

// Config namespaces every collector registered by Collector.
type Config struct {
	Namespace string
	Subsystem string
	Enabled   bool
}

// DefaultConfig namespaces metrics under "rtprtcp".
func DefaultConfig() Config {
	return Config{Namespace: "rtprtcp", Subsystem: "session", Enabled: true}
}

// Collector is the central Prometheus registration point for one process's
// worth of RTP sessions. A disabled Collector's methods are no-ops, so
// call sites never need to branch on whether metrics are turned on.
type Collector struct {
	enabled bool

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter

	packetsSent     prometheus.Counter
	bytesSent       prometheus.Counter
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsLost     *prometheus.CounterVec // labeled by ssrc

	jitterMs    prometheus.Histogram
	rttMs       prometheus.Histogram
	lossRatio   prometheus.Gauge
	targetRate  prometheus.Gauge // bwe target bitrate, bits/sec
	stableRate  prometheus.Gauge // bwe stable (link-capacity) bitrate, bits/sec
	bweState    *prometheus.GaugeVec // one-hot by trendline state name

	nacksSent       prometheus.Counter
	nacksReceived   prometheus.Counter
	retransmits     prometheus.Counter
	fecGenerated    prometheus.Counter
	fecRecovered    prometheus.Counter
	framesDecodable prometheus.Counter
	framesDropped   prometheus.Counter

	errorsTotal *prometheus.CounterVec // labeled by kind, component
}

// New registers a fresh set of collectors. Call once per process; the
// returned Collector is safe for concurrent use across sessions.
func New(cfg Config) *Collector {
	if !cfg.Enabled {
		return &Collector{enabled: false}
	}

	ns, sub := cfg.Namespace, cfg.Subsystem
	c := &Collector{enabled: true}

	c.sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "sessions_active",
		Help: "Number of currently active RTP sessions.",
	})
	c.sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "sessions_total",
		Help: "Total number of RTP sessions created.",
	})

	c.packetsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "packets_sent_total",
		Help: "Total number of RTP packets sent.",
	})
	c.bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "bytes_sent_total",
		Help: "Total number of RTP payload bytes sent.",
	})
	c.packetsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "packets_received_total",
		Help: "Total number of RTP packets received.",
	})
	c.bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "bytes_received_total",
		Help: "Total number of RTP payload bytes received.",
	})
	c.packetsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "packets_lost_total",
		Help: "Total number of RTP packets reported lost, by remote SSRC.",
	}, []string{"ssrc"})

	c.jitterMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: "jitter_milliseconds",
		Help:    "Interarrival jitter estimate.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100, 200},
	})
	c.rttMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: "rtt_milliseconds",
		Help:    "Round-trip time computed from RTCP SR/RR exchanges.",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 150, 200, 300, 500, 1000},
	})
	c.lossRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "loss_ratio",
		Help: "Most recently reported RTCP fraction-lost, as a ratio in [0,1].",
	})
	c.targetRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "bwe_target_bitrate_bps",
		Help: "Current GoogCC combined target send bitrate.",
	})
	c.stableRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "bwe_stable_bitrate_bps",
		Help: "Current GoogCC smoothed link-capacity estimate.",
	})
	c.bweState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "bwe_trendline_state",
		Help: "One-hot indicator (1 for the active state, 0 otherwise) of the trendline detector's verdict.",
	}, []string{"state"})

	c.nacksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "nacks_sent_total",
		Help: "Total number of NACK feedback packets sent.",
	})
	c.nacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "nacks_received_total",
		Help: "Total number of NACK feedback packets received.",
	})
	c.retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "retransmits_total",
		Help: "Total number of packets retransmitted in response to a NACK.",
	})
	c.fecGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "fec_packets_generated_total",
		Help: "Total number of FEC packets generated.",
	})
	c.fecRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "fec_packets_recovered_total",
		Help: "Total number of media packets recovered via FEC.",
	})
	c.framesDecodable = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "frames_decodable_total",
		Help: "Total number of frames assembled and handed to the decoder.",
	})
	c.framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "frames_dropped_total",
		Help: "Total number of incomplete frames dropped without decoding.",
	})

	c.errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "errors_total",
		Help: "Total number of typed errors raised, by kind and component.",
	}, []string{"kind", "component"})

	return c
}

func (c *Collector) SessionOpened() {
	if !c.enabled {
		return
	}
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed() {
	if !c.enabled {
		return
	}
	c.sessionsActive.Dec()
}

func (c *Collector) PacketSent(bytes int) {
	if !c.enabled {
		return
	}
	c.packetsSent.Inc()
	c.bytesSent.Add(float64(bytes))
}

func (c *Collector) PacketReceived(bytes int) {
	if !c.enabled {
		return
	}
	c.packetsReceived.Inc()
	c.bytesReceived.Add(float64(bytes))
}

func (c *Collector) PacketsLost(ssrc string, count int) {
	if !c.enabled || count <= 0 {
		return
	}
	c.packetsLost.WithLabelValues(ssrc).Add(float64(count))
}

func (c *Collector) ObserveJitter(ms float64) {
	if !c.enabled {
		return
	}
	c.jitterMs.Observe(ms)
}

func (c *Collector) ObserveRTT(ms float64) {
	if !c.enabled {
		return
	}
	c.rttMs.Observe(ms)
}

func (c *Collector) SetLossRatio(ratio float64) {
	if !c.enabled {
		return
	}
	c.lossRatio.Set(ratio)
}

// SetBweState records a one-hot indicator: active set to 1, every other
// known state reset to 0, so a Prometheus query for the active state is a
// plain `== 1` filter rather than a string comparison.
func (c *Collector) SetBweState(active string, allStates []string) {
	if !c.enabled {
		return
	}
	for _, s := range allStates {
		if s == active {
			c.bweState.WithLabelValues(s).Set(1)
		} else {
			c.bweState.WithLabelValues(s).Set(0)
		}
	}
}

func (c *Collector) SetTargetBitrate(bps int64) {
	if !c.enabled {
		return
	}
	c.targetRate.Set(float64(bps))
}

func (c *Collector) SetStableBitrate(bps int64) {
	if !c.enabled {
		return
	}
	c.stableRate.Set(float64(bps))
}

func (c *Collector) NackSent()       { c.incIfEnabled(c.nacksSent) }
func (c *Collector) NackReceived()   { c.incIfEnabled(c.nacksReceived) }
func (c *Collector) Retransmitted()  { c.incIfEnabled(c.retransmits) }
func (c *Collector) FecGenerated()   { c.incIfEnabled(c.fecGenerated) }
func (c *Collector) FecRecovered()   { c.incIfEnabled(c.fecRecovered) }
func (c *Collector) FrameDecodable() { c.incIfEnabled(c.framesDecodable) }
func (c *Collector) FrameDropped()   { c.incIfEnabled(c.framesDropped) }

func (c *Collector) incIfEnabled(counter prometheus.Counter) {
	if !c.enabled {
		return
	}
	counter.Inc()
}

// ErrorOccurred records a typed error against its kind and component, the
// same taxonomy rtperr.Error raises with.
func (c *Collector) ErrorOccurred(err *rtperr.Error) {
	if !c.enabled || err == nil {
		return
	}
	c.errorsTotal.WithLabelValues(err.Kind.String(), err.Component).Inc()
}
