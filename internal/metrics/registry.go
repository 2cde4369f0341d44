// Package metrics provides the Prometheus metrics for the PLC link
// bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// connStates enumerates the state label values so the state gauge always
// carries the full set.
var connStates = []string{"disconnected", "connecting", "connected", "degraded", "reconnecting"}

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Connection metrics
	ConnState         *prometheus.GaugeVec
	StateTransitions  *prometheus.CounterVec
	ConnectAttempts   *prometheus.CounterVec
	ConnectLatency    prometheus.Histogram
	Degrades          *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	ReconnectAttempts prometheus.Histogram
	ARPRefreshes      prometheus.Counter
	StaleFrames       prometheus.Counter

	// Modbus request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Polling metrics
	PollsTotal   *prometheus.CounterVec
	PollDuration prometheus.Histogram
	PointsRead   prometheus.Counter
	PointErrors  prometheus.Counter
	PollPaused   prometheus.Gauge

	// MQTT metrics
	MQTTMessagesPublished prometheus.Counter
	MQTTMessagesFailed    prometheus.Counter
	MQTTBufferSize        prometheus.Gauge
	MQTTReconnects        prometheus.Counter
	WriteCommands         *prometheus.CounterVec
}

// NewRegistry creates a metrics registry with all metrics registered on
// reg. Production wiring passes prometheus.DefaultRegisterer; tests pass
// a private registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	r := &Registry{
		// Connection metrics
		ConnState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state",
		}, []string{"to"}),
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by outcome",
		}, []string{"status"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "connect_latency_seconds",
			Help:      "Session establishment latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Degrades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "degrades_total",
			Help:      "Session degradations by fault reason",
		}, []string{"reason"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Recovery cycles by outcome",
		}, []string{"status"}),
		ReconnectAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "reconnect_attempts",
			Help:      "Connection attempts used per recovery cycle",
			Buckets:   []float64{1, 2, 3, 5, 7, 10},
		}),
		ARPRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "arp_refreshes_total",
			Help:      "Forced ARP re-resolutions issued to the chip",
		}),
		StaleFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "connection",
			Name:      "stale_frames_total",
			Help:      "Responses discarded for carrying a stale transaction id",
		}),

		// Modbus request metrics
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "requests_total",
			Help:      "Modbus operations by function and outcome",
		}, []string{"function", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plclink",
			Subsystem: "modbus",
			Name:      "request_duration_seconds",
			Help:      "Modbus operation duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"function"}),

		// Polling metrics
		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome",
		}, []string{"status"}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plclink",
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		PointsRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "poll",
			Name:      "points_read_total",
			Help:      "Points read successfully",
		}),
		PointErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "poll",
			Name:      "point_errors_total",
			Help:      "Point reads that failed",
		}),
		PollPaused: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "plclink",
			Subsystem: "poll",
			Name:      "paused",
			Help:      "1 while polling is administratively paused",
		}),

		// MQTT metrics
		MQTTMessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "messages_published_total",
			Help:      "MQTT messages published",
		}),
		MQTTMessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "messages_failed_total",
			Help:      "MQTT publishes that failed",
		}),
		MQTTBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "buffer_size",
			Help:      "Messages waiting in the publish buffer",
		}),
		MQTTReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "reconnects_total",
			Help:      "MQTT reconnection attempts",
		}),
		WriteCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plclink",
			Subsystem: "mqtt",
			Name:      "write_commands_total",
			Help:      "Inbound write commands by outcome",
		}, []string{"status"}),
	}

	// Seed the state gauge so every label is present from the start.
	r.SetConnectionState("disconnected")

	return r
}

// SetConnectionState marks state as the active connection state.
func (r *Registry) SetConnectionState(state string) {
	for _, s := range connStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.ConnState.WithLabelValues(s).Set(v)
	}
	r.StateTransitions.WithLabelValues(state).Inc()
}

// RecordConnectAttempt records one session establishment attempt.
func (r *Registry) RecordConnectAttempt(success bool, d time.Duration) {
	status := "error"
	if success {
		status = "ok"
	}
	r.ConnectAttempts.WithLabelValues(status).Inc()
	r.ConnectLatency.Observe(d.Seconds())
}

// RecordDegrade records a session degradation.
func (r *Registry) RecordDegrade(reason string) {
	r.Degrades.WithLabelValues(reason).Inc()
}

// RecordReconnect records the outcome of a recovery cycle.
func (r *Registry) RecordReconnect(attempts int, success bool) {
	status := "exhausted"
	if success {
		status = "ok"
	}
	r.Reconnects.WithLabelValues(status).Inc()
	r.ReconnectAttempts.Observe(float64(attempts))
}

// RecordARPRefresh records a forced ARP re-resolution.
func (r *Registry) RecordARPRefresh() {
	r.ARPRefreshes.Inc()
}

// RecordStaleFrame records a discarded stale response.
func (r *Registry) RecordStaleFrame() {
	r.StaleFrames.Inc()
}

// RecordRequest records one Modbus operation.
func (r *Registry) RecordRequest(function, status string, d time.Duration) {
	r.RequestsTotal.WithLabelValues(function, status).Inc()
	r.RequestDuration.WithLabelValues(function).Observe(d.Seconds())
}

// RecordPollCycle records one poll cycle and its point outcomes.
func (r *Registry) RecordPollCycle(d time.Duration, good, bad int) {
	status := "ok"
	if bad > 0 {
		status = "partial"
	}
	if good == 0 && bad > 0 {
		status = "error"
	}
	r.PollsTotal.WithLabelValues(status).Inc()
	r.PollDuration.Observe(d.Seconds())
	r.PointsRead.Add(float64(good))
	r.PointErrors.Add(float64(bad))
}

// SetPollPaused flags polling as administratively paused.
func (r *Registry) SetPollPaused(paused bool) {
	if paused {
		r.PollPaused.Set(1)
	} else {
		r.PollPaused.Set(0)
	}
}

// RecordMQTTPublish records an MQTT publish outcome.
func (r *Registry) RecordMQTTPublish(success bool) {
	if success {
		r.MQTTMessagesPublished.Inc()
	} else {
		r.MQTTMessagesFailed.Inc()
	}
}

// SetMQTTBufferSize updates the publish buffer gauge.
func (r *Registry) SetMQTTBufferSize(size int) {
	r.MQTTBufferSize.Set(float64(size))
}

// RecordMQTTReconnect records an MQTT reconnection attempt.
func (r *Registry) RecordMQTTReconnect() {
	r.MQTTReconnects.Inc()
}

// RecordWriteCommand records an inbound write command outcome.
func (r *Registry) RecordWriteCommand(status string) {
	r.WriteCommands.WithLabelValues(status).Inc()
}
