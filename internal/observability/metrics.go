package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eew"

// Metrics holds the Prometheus counters, histograms, and gauges for the poller.
type Metrics struct {
	// Scheduler metrics.
	Ticks               *prometheus.CounterVec // labels: outcome={novel,duplicate,idle,failed,drift}
	DriftEvents         prometheus.Counter
	DriftSkippedSeconds prometheus.Counter
	EpisodeSize         prometheus.Gauge
	SchedulerRunning    prometheus.Gauge
	ReportLogErrors     prometheus.Counter

	// Feed fetch metrics.
	FetchAttempts *prometheus.CounterVec   // labels: endpoint={latest,report,layer,base_map,generic}, result={success,error}
	FetchFailures *prometheus.CounterVec   // labels: endpoint; retries exhausted
	FetchDuration *prometheus.HistogramVec // labels: endpoint

	// Notification metrics.
	Notifications         *prometheus.CounterVec // labels: result={sent,failed}
	NotificationsInFlight prometheus.Gauge
	ChannelSends          *prometheus.CounterVec // labels: channel, result={success,error}
	Compositions          *prometheus.CounterVec // labels: outcome={success,failure,disabled}
	RenderingEnabled      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many instances as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Poll ticks by outcome.",
		}, []string{"outcome"}),
		DriftEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_events_total",
			Help:      "Times the schedule was realigned after falling 5s or more behind.",
		}),
		DriftSkippedSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_skipped_seconds_total",
			Help:      "Feed seconds skipped by drift realignment.",
		}),
		EpisodeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "episode_reports",
			Help:      "Distinct reports seen in the current warning episode.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the poll loop is running, 0 otherwise.",
		}),
		ReportLogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_log_errors_total",
			Help:      "Failed appends to the report log.",
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP GET attempts against the feed by endpoint and result.",
		}, []string{"endpoint", "result"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Fetches that failed every attempt.",
		}, []string{"endpoint"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single feed GET attempt.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"endpoint"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Dispatched notifications by result.",
		}, []string{"result"}),
		NotificationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_in_flight",
			Help:      "Notification tasks currently running.",
		}),
		ChannelSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_sends_total",
			Help:      "Sends per notification channel by result.",
		}, []string{"channel", "result"}),
		Compositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compositions_total",
			Help:      "Composite image renders by outcome.",
		}, []string{"outcome"}),
		RenderingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rendering_enabled",
			Help:      "1 when composite images are attached to notifications, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Ticks,
		m.DriftEvents,
		m.DriftSkippedSeconds,
		m.EpisodeSize,
		m.SchedulerRunning,
		m.ReportLogErrors,
		m.FetchAttempts,
		m.FetchFailures,
		m.FetchDuration,
		m.Notifications,
		m.NotificationsInFlight,
		m.ChannelSends,
		m.Compositions,
		m.RenderingEnabled,
	}
}
