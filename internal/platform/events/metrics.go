package events

import (
	"context"

	"github.com/dontdude/feedrelay/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts events and tracks the pause state as Prometheus metrics.
type MetricsSink struct {
	events   *prometheus.CounterVec
	paused   prometheus.Gauge
	cooldown prometheus.Histogram
}

var _ domain.EventSink = (*MetricsSink)(nil)

// NewMetricsSink registers the collectors on reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	m := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedrelay",
			Name:      "job_events_total",
			Help:      "Dispatcher events by type.",
		}, []string{"type"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedrelay",
			Name:      "queue_paused",
			Help:      "1 while dispatch is paused on a rate limit.",
		}),
		cooldown: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedrelay",
			Name:      "pause_cooldown_seconds",
			Help:      "Cooldown chosen for each rate-limit pause.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
	reg.MustRegister(m.events, m.paused, m.cooldown)
	return m
}

func (m *MetricsSink) Emit(_ context.Context, ev domain.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case domain.EventPaused:
		m.paused.Set(1)
		m.cooldown.Observe(ev.Cooldown.Seconds())
	case domain.EventResumed:
		m.paused.Set(0)
	}
}
