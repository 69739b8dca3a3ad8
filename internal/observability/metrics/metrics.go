package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxywatch/internal/eventbus"
	"proxywatch/internal/monitor"
	"proxywatch/internal/notifier"
)

const namespace = "proxywatch"

// Metrics holds the Prometheus collectors fed from the event bus.
type Metrics struct {
	registry      *prometheus.Registry
	ticks         *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	fetchDuration *prometheus.HistogramVec
	alerts        *prometheus.CounterVec
	sent          *prometheus.CounterVec
	failed        *prometheus.CounterVec
	loopsRunning  prometheus.Gauge
	commands      *prometheus.CounterVec
}

// New creates a fresh registry with the proxywatch metrics and the Go
// runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Poll loop ticks by loop and outcome",
		}, []string{"loop", "outcome"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full poll loop tick",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of device API requests",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"loop"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts produced by diff strategies",
		}, []string{"loop"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Messages delivered to the destination chat",
		}, []string{"source"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Messages the transport rejected",
		}, []string{"source"}),
		loopsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loops_running",
			Help:      "Number of running poll loops",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Operator commands by name and result",
		}, []string{"command", "ok"}),
	}

	registry.MustRegister(
		m.ticks, m.tickDuration, m.fetchDuration, m.alerts,
		m.sent, m.failed, m.loopsRunning, m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe updates the collectors from one bus event. Unknown events are
// ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case eventbus.TypeTick:
		ev, ok := e.Data.(monitor.TickEvent)
		if !ok {
			return
		}
		m.ticks.WithLabelValues(ev.Loop, ev.Outcome).Inc()
		m.tickDuration.WithLabelValues(ev.Loop).Observe(ev.Took.Seconds())
		m.fetchDuration.WithLabelValues(ev.Loop).Observe(ev.FetchTook.Seconds())
		if ev.Alerts > 0 {
			m.alerts.WithLabelValues(ev.Loop).Add(float64(ev.Alerts))
		}
	case eventbus.TypeNotifySent:
		if ev, ok := e.Data.(notifier.NotificationEvent); ok {
			m.sent.WithLabelValues(ev.Source).Inc()
		}
	case eventbus.TypeNotifyFailed:
		if ev, ok := e.Data.(notifier.NotificationEvent); ok {
			m.failed.WithLabelValues(ev.Source).Inc()
		}
	case eventbus.TypeLoopStarted:
		m.loopsRunning.Inc()
	case eventbus.TypeLoopStopped:
		m.loopsRunning.Dec()
	case eventbus.TypeCommandHandled:
		if ev, ok := e.Data.(eventbus.CommandEvent); ok {
			okLabel := "false"
			if ev.OK {
				okLabel = "true"
			}
			m.commands.WithLabelValues(ev.Command, okLabel).Inc()
		}
	}
}

// Consume feeds bus events into the collectors until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
