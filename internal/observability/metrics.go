package observability

import (
	"context"
	"net/http"
	"strings"

	"manabot/internal/bot"
	"manabot/internal/eventbus"
	"manabot/internal/notifier"
	"manabot/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics turns bus events into Prometheus series on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	lines         prometheus.Counter
	detected      *prometheus.CounterVec
	matchFailures *prometheus.CounterVec
	notifications *prometheus.CounterVec
	probes        *prometheus.CounterVec
	predictions   prometheus.Counter
	commands      *prometheus.CounterVec
	runs          *prometheus.HistogramVec
}

// NewMetrics registers the manabot series plus the Go and process
// collectors. bus may be nil; when set, its drop counter is exported.
func NewMetrics(bus eventbus.Bus) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manabot_lines_total",
			Help: "Chat lines processed.",
		}),
		detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabot_events_detected_total",
			Help: "Lines that matched an event pattern, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		matchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabot_match_failures_total",
			Help: "Matched lines whose numeric field failed to parse.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabot_notifications_total",
			Help: "Notification lifecycle events, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabot_probes_total",
			Help: "Mana probe outcomes.",
		}, []string{"outcome"}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "manabot_predictions_total",
			Help: "Predicted events announced.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "manabot_chat_commands_total",
			Help: "Commands written to chat, by name and result.",
		}, []string{"name", "result"}),
		runs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "manabot_scheduler_run_seconds",
			Help:    "Scheduled job duration, by job and result.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"name", "result"}),
	}
	m.reg.MustRegister(
		m.lines, m.detected, m.matchFailures, m.notifications,
		m.probes, m.predictions, m.commands, m.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "manabot_bus_dropped_total",
			Help: "Bus events dropped because a subscriber was slow.",
		}, func() float64 { return float64(bus.Dropped()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(1024, "bot.", "notifier.", "scheduler.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe applies one bus event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case bot.EventLine:
		m.lines.Inc()
	case bot.EventDetected:
		if d, ok := ev.Data.(bot.DetectedEvent); ok {
			m.detected.WithLabelValues(d.Kind, d.Outcome).Inc()
		}
	case bot.EventMatchFailed:
		if d, ok := ev.Data.(bot.MatchFailedEvent); ok {
			m.matchFailures.WithLabelValues(d.Kind).Inc()
		}
	case bot.EventProbe:
		if d, ok := ev.Data.(bot.ProbeEvent); ok {
			m.probes.WithLabelValues(d.Outcome).Inc()
		}
	case bot.EventPrediction:
		m.predictions.Inc()
	case bot.EventCommand:
		if d, ok := ev.Data.(bot.CommandEvent); ok {
			m.commands.WithLabelValues(d.Name, result(d.Error)).Inc()
		}
	case scheduler.EventRun:
		if d, ok := ev.Data.(scheduler.RunEvent); ok {
			m.runs.WithLabelValues(d.Name, result(d.Error)).Observe(d.Took.Seconds())
		}
	default:
		if d, ok := ev.Data.(notifier.NotificationEvent); ok && strings.HasPrefix(ev.Type, "notifier.") {
			m.notifications.WithLabelValues(d.Kind, strings.TrimPrefix(ev.Type, "notifier.")).Inc()
		}
	}
}

func result(errText string) string {
	if errText != "" {
		return "error"
	}
	return "ok"
}
