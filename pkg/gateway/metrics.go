package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Session metrics
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsResumed prometheus.Counter
	sessionsExpired prometheus.Counter

	// Dispatch metrics
	dispatchFanout    prometheus.Histogram
	eventsDispatched  *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	slowClientsClosed prometheus.Counter

	// Connection metrics
	framesReceived    *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	authRejections    prometheus.Counter

	// Performance metrics
	dispatchDuration prometheus.Histogram
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "surge_active_sessions",
				Help: "Current number of registered sessions",
			},
		),
		sessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_sessions_created_total",
				Help: "Total number of sessions created at Identify",
			},
		),
		sessionsResumed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_sessions_resumed_total",
				Help: "Total number of successful resumes",
			},
		),
		sessionsExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_sessions_expired_total",
				Help: "Total number of sessions expired past the resume window",
			},
		),
		dispatchFanout: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "surge_dispatch_fanout",
				Help:    "Number of sessions that received each dispatched event",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
			},
		),
		eventsDispatched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_events_dispatched_total",
				Help: "Total number of events consumed from the stream by type",
			},
			[]string{"type"},
		),
		eventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_events_dropped_total",
				Help: "Total number of malformed envelopes dropped",
			},
		),
		slowClientsClosed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_slow_clients_closed_total",
				Help: "Total number of connections dropped for a full outbound queue",
			},
		),
		framesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_frames_received_total",
				Help: "Total number of frames received from clients by opcode",
			},
			[]string{"op"},
		),
		heartbeatTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_heartbeat_timeouts_total",
				Help: "Total number of connections closed for missed heartbeats",
			},
		),
		authRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "surge_auth_rejections_total",
				Help: "Total number of Identify attempts rejected by the identity service",
			},
		),
		dispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "surge_dispatch_duration_seconds",
				Help:    "Time taken to fan one event out to all interested sessions",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordActiveSessions updates the registered session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionResumed increments the resume counter
func (m *Metrics) RecordSessionResumed() {
	m.sessionsResumed.Inc()
}

// RecordSessionExpired increments the expiry counter
func (m *Metrics) RecordSessionExpired() {
	m.sessionsExpired.Inc()
}

// RecordDispatch records one fanned-out event and its recipient count
func (m *Metrics) RecordDispatch(eventType string, recipients int, durationSeconds float64) {
	m.eventsDispatched.WithLabelValues(eventType).Inc()
	m.dispatchFanout.Observe(float64(recipients))
	m.dispatchDuration.Observe(durationSeconds)
}

// RecordEventDropped increments the malformed-envelope counter
func (m *Metrics) RecordEventDropped() {
	m.eventsDropped.Inc()
}

// RecordSlowClientClosed increments the slow-client drop counter
func (m *Metrics) RecordSlowClientClosed() {
	m.slowClientsClosed.Inc()
}

// RecordFrameReceived increments the received counter for an opcode
func (m *Metrics) RecordFrameReceived(op string) {
	m.framesReceived.WithLabelValues(op).Inc()
}

// RecordHeartbeatTimeout increments the heartbeat timeout counter
func (m *Metrics) RecordHeartbeatTimeout() {
	m.heartbeatTimeouts.Inc()
}

// RecordAuthRejection increments the auth rejection counter
func (m *Metrics) RecordAuthRejection() {
	m.authRejections.Inc()
}
