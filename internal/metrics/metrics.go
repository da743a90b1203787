// Package metrics exposes Prometheus instrumentation for the event
// pipeline (SPEC_FULL.md's domain-stack table: store writes, pending-entry
// redelivery, broadcast fan-out), following the registerer-injected
// constructor shape of the teacher's internal/observability context
// metrics (NewXWithRegisterer(reg), *Vec fields updated by Record* methods).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline holds the counters and histograms the event pipeline updates.
type Pipeline struct {
	storeWrites       *prometheus.CounterVec
	storeWriteErrors  *prometheus.CounterVec
	throttledUpdates  prometheus.Counter
	redeliveries      *prometheus.CounterVec
	broadcastFanout   *prometheus.CounterVec
	broadcastDropped  *prometheus.CounterVec
	broadcastSessions prometheus.Gauge
	handlerLatency    *prometheus.HistogramVec
}

// NewPipeline registers pipeline metrics against the default Prometheus
// registerer.
func NewPipeline() *Pipeline {
	return NewPipelineWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineWithRegisterer registers pipeline metrics against reg,
// letting tests use an isolated prometheus.NewRegistry().
func NewPipelineWithRegisterer(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskhub",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Durable store writes performed by the event handler, by event type.",
		}, []string{"event_type"}),
		storeWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskhub",
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Durable store write failures, by event type.",
		}, []string{"event_type"}),
		throttledUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskhub",
			Subsystem: "handler",
			Name:      "status_updates_throttled_total",
			Help:      "TASK_STATUS updates suppressed by the delta-throttle policy.",
		}),
		redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskhub",
			Subsystem: "eventlog",
			Name:      "redeliveries_total",
			Help:      "Entries reclaimed from another consumer's pending set, by stream.",
		}, []string{"stream"}),
		broadcastFanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskhub",
			Subsystem: "broadcaster",
			Name:      "frames_sent_total",
			Help:      "Frames delivered to live subscribers, by frame type.",
		}, []string{"frame_type"}),
		broadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskhub",
			Subsystem: "broadcaster",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a subscriber's buffer was full, by frame type.",
		}, []string{"frame_type"}),
		broadcastSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskhub",
			Subsystem: "broadcaster",
			Name:      "active_sessions",
			Help:      "Currently subscribed live sessions across all tasks.",
		}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskhub",
			Subsystem: "handler",
			Name:      "dispatch_seconds",
			Help:      "Time spent handling one Event Log entry, by event type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}

	reg.MustRegister(
		p.storeWrites,
		p.storeWriteErrors,
		p.throttledUpdates,
		p.redeliveries,
		p.broadcastFanout,
		p.broadcastDropped,
		p.broadcastSessions,
		p.handlerLatency,
	)
	return p
}

// RecordStoreWrite records a successful durable-store write for eventType.
func (p *Pipeline) RecordStoreWrite(eventType string) {
	p.storeWrites.WithLabelValues(eventType).Inc()
}

// RecordStoreWriteError records a failed durable-store write for eventType.
func (p *Pipeline) RecordStoreWriteError(eventType string) {
	p.storeWriteErrors.WithLabelValues(eventType).Inc()
}

// RecordThrottledUpdate records a TASK_STATUS event the delta-throttle
// policy suppressed.
func (p *Pipeline) RecordThrottledUpdate() {
	p.throttledUpdates.Inc()
}

// RecordRedelivery records one entry reclaimed from another consumer's
// pending set on stream.
func (p *Pipeline) RecordRedelivery(stream string) {
	p.redeliveries.WithLabelValues(stream).Inc()
}

// RecordBroadcastFanout records one frame of frameType delivered to a live
// subscriber.
func (p *Pipeline) RecordBroadcastFanout(frameType string) {
	p.broadcastFanout.WithLabelValues(frameType).Inc()
}

// RecordBroadcastDropped records one frame of frameType dropped because a
// subscriber's buffer was full.
func (p *Pipeline) RecordBroadcastDropped(frameType string) {
	p.broadcastDropped.WithLabelValues(frameType).Inc()
}

// SetActiveSessions sets the current count of live subscribed sessions.
func (p *Pipeline) SetActiveSessions(n int) {
	p.broadcastSessions.Set(float64(n))
}

// ObserveDispatchDuration records how long handling one entry of
// eventType took, in seconds.
func (p *Pipeline) ObserveDispatchDuration(eventType string, seconds float64) {
	p.handlerLatency.WithLabelValues(eventType).Observe(seconds)
}
