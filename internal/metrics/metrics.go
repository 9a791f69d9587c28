package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the pipeline collectors. Components take a *Registry and
// tolerate nil so tests can skip metrics entirely.
type Registry struct {
	reg *prometheus.Registry

	PipelineTransitions  *prometheus.CounterVec
	PollAttempts         prometheus.Counter
	PersistenceFallbacks *prometheus.CounterVec
	StreamFramesDropped  prometheus.Counter
	BroadcastDropped     prometheus.Counter
	Notifications        *prometheus.CounterVec
	ActiveStreams        prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		PipelineTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_transitions_total",
			Help: "Pipeline stage transitions, by target stage.",
		}, []string{"stage"}),
		PollAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transcription_poll_attempts_total",
			Help: "Transcription job status polls.",
		}),
		PersistenceFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistence_fallback_total",
			Help: "Operations served by the local fallback store after a primary error.",
		}, []string{"op"}),
		StreamFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_frames_dropped_total",
			Help: "Audio frames dropped because the live session was not streaming or could not keep up.",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_events_dropped_total",
			Help: "Events not delivered to slow live viewers.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notifications, by kind and result.",
		}, []string{"kind", "result"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_streams_active",
			Help: "Open live transcription sessions.",
		}),
	}
	r.reg.MustRegister(
		r.PipelineTransitions,
		r.PollAttempts,
		r.PersistenceFallbacks,
		r.StreamFramesDropped,
		r.BroadcastDropped,
		r.Notifications,
		r.ActiveStreams,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

func (r *Registry) Transition(stage string) {
	if r == nil {
		return
	}
	r.PipelineTransitions.WithLabelValues(stage).Inc()
}

func (r *Registry) Poll() {
	if r == nil {
		return
	}
	r.PollAttempts.Inc()
}

func (r *Registry) Fallback(op string) {
	if r == nil {
		return
	}
	r.PersistenceFallbacks.WithLabelValues(op).Inc()
}

func (r *Registry) FrameDropped() {
	if r == nil {
		return
	}
	r.StreamFramesDropped.Inc()
}

func (r *Registry) EventDropped() {
	if r == nil {
		return
	}
	r.BroadcastDropped.Inc()
}

func (r *Registry) Notification(kind, result string) {
	if r == nil {
		return
	}
	r.Notifications.WithLabelValues(kind, result).Inc()
}

func (r *Registry) StreamOpened() {
	if r == nil {
		return
	}
	r.ActiveStreams.Inc()
}

func (r *Registry) StreamClosed() {
	if r == nil {
		return
	}
	r.ActiveStreams.Dec()
}
