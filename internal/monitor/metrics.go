package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the control loop counters to Prometheus. It implements
// cycle.Metrics.
type Metrics struct {
	cycles          prometheus.Counter
	framesReceived  prometheus.Counter
	framesReused    prometheus.Counter
	invalidPayloads prometheus.Counter
	posesSent       prometheus.Counter
	fallbacks       prometheus.Counter
	cycleDuration   prometheus.Histogram
	sessionLive     prometheus.Gauge
}

// NewMetrics registers the loop metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holotrack_cycles_total",
			Help: "Control loop iterations completed",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holotrack_frames_received_total",
			Help: "Frames assembled from a valid payload",
		}),
		framesReused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holotrack_frames_reused_total",
			Help: "Cycles that kept the previously held frame",
		}),
		invalidPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holotrack_invalid_payloads_total",
			Help: "Received payloads rejected for their size",
		}),
		posesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holotrack_poses_sent_total",
			Help: "Delta poses written to the peer",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holotrack_identity_fallbacks_total",
			Help: "Cycles that sent the identity because the reference pose was singular",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "holotrack_cycle_duration_seconds",
			Help:    "Duration of one control loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		sessionLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "holotrack_session_live",
			Help: "1 while a peer session is connected",
		}),
	}
	reg.MustRegister(m.cycles, m.framesReceived, m.framesReused, m.invalidPayloads,
		m.posesSent, m.fallbacks, m.cycleDuration, m.sessionLive)
	return m
}

func (m *Metrics) CycleCompleted(d time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) FrameReceived()    { m.framesReceived.Inc() }
func (m *Metrics) FrameReused()      { m.framesReused.Inc() }
func (m *Metrics) InvalidPayload()   { m.invalidPayloads.Inc() }
func (m *Metrics) PoseSent()         { m.posesSent.Inc() }
func (m *Metrics) IdentityFallback() { m.fallbacks.Inc() }

// SetSessionLive flips the session gauge.
func (m *Metrics) SetSessionLive(live bool) {
	if live {
		m.sessionLive.Set(1)
	} else {
		m.sessionLive.Set(0)
	}
}
