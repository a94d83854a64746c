// Package stat counts readings through the pipeline.
// All methods are safe on nil *Stat.
package stat

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/wearable/reading"
)

const namespace = "wearable"

// Drop and failure reasons.
const (
	ReasonTimeout      = "timeout"
	ReasonDisconnected = "disconnected"
	ReasonDecode       = "decode"
	ReasonUnknownKind  = "unknown_kind"
	ReasonSink         = "sink"
	ReasonPending      = "pending_after_disconnect"
)

type Stat struct {
	registry  *prometheus.Registry
	generated *prometheus.CounterVec // kind
	sent      *prometheus.CounterVec // kind
	dropped   *prometheus.CounterVec // kind, reason
	delivered *prometheus.CounterVec // kind
	failed    *prometheus.CounterVec // kind, reason
	queued    prometheus.Gauge
	logErrors prometheus.Counter
}

func New() *Stat {
	s := &Stat{
		registry: prometheus.NewRegistry(),
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "generated_total",
			Help:      "Readings generated by producer",
		}, []string{"kind"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "sent_total",
			Help:      "Encoded readings accepted by channel",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "dropped_total",
			Help:      "Readings dropped before dispatch",
		}, []string{"kind", "reason"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "delivered_total",
			Help:      "Events accepted by sink",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "failed_total",
			Help:      "Messages not delivered by dispatcher",
		}, []string{"kind", "reason"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "queued",
			Help:      "Messages waiting in channel",
		}),
		logErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Error level log records",
		}),
	}
	s.registry.MustRegister(s.generated, s.sent, s.dropped, s.delivered, s.failed, s.queued, s.logErrors)
	return s
}

func (s *Stat) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// Handler serves text exposition format.
func (s *Stat) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Stat) Generated(k reading.Kind) {
	if s != nil {
		s.generated.WithLabelValues(k.String()).Inc()
	}
}

func (s *Stat) Sent(k reading.Kind) {
	if s != nil {
		s.sent.WithLabelValues(k.String()).Inc()
	}
}

func (s *Stat) Dropped(k reading.Kind, reason string) {
	if s != nil {
		s.dropped.WithLabelValues(k.String(), reason).Inc()
	}
}

func (s *Stat) DroppedN(k reading.Kind, reason string, n int) {
	if s != nil && n > 0 {
		s.dropped.WithLabelValues(k.String(), reason).Add(float64(n))
	}
}

func (s *Stat) Delivered(k reading.Kind) {
	if s != nil {
		s.delivered.WithLabelValues(k.String()).Inc()
	}
}

func (s *Stat) Failed(k reading.Kind, reason string) {
	if s != nil {
		s.failed.WithLabelValues(k.String(), reason).Inc()
	}
}

func (s *Stat) Queued(n int) {
	if s != nil {
		s.queued.Set(float64(n))
	}
}

// LogError fits log2.ErrorFunc.
func (s *Stat) LogError(error) {
	if s != nil {
		s.logErrors.Inc()
	}
}
