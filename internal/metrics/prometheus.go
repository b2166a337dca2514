package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded by the scheduler.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Collector holds the scheduler metrics on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry       *prometheus.Registry
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	dueObligations prometheus.Gauge
	lastRunSuccess prometheus.Gauge
	items          *prometheus.CounterVec
	itemDuration   prometheus.Histogram
	notifications  *prometheus.CounterVec
	remindersSent  prometheus.Counter
	logger         *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finplan_scheduler_runs_total",
			Help: "Total number of scheduler runs by trigger",
		}, []string{"trigger"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "finplan_scheduler_run_duration_seconds",
			Help:    "Time taken by one scheduler run",
			Buckets: prometheus.DefBuckets,
		}),
		dueObligations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "finplan_scheduler_due_obligations",
			Help: "Obligations found due by the last run",
		}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "finplan_scheduler_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finplan_occurrences_total",
			Help: "Obligation occurrences handled by outcome",
		}, []string{"outcome"}),
		itemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "finplan_occurrence_duration_seconds",
			Help:    "Time taken to process one occurrence",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finplan_notifications_total",
			Help: "Notifications stored by kind",
		}, []string{"kind"}),
		remindersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "finplan_reminders_sent_total",
			Help: "Upcoming-due reminders stored",
		}),
		logger: logger,
	}
}

func (c *Collector) RecordRun(trigger string, due int, duration time.Duration, finished time.Time) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(trigger).Inc()
	c.runDuration.Observe(duration.Seconds())
	c.dueObligations.Set(float64(due))
	c.lastRunSuccess.Set(float64(finished.Unix()))
}

func (c *Collector) RecordOccurrence(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.items.WithLabelValues(outcome).Inc()
	c.itemDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordNotification(kind string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordReminders(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.remindersSent.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(c.logger.Handler(), slog.LevelError),
	})
}
