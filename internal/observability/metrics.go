// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartpesa/internal/credit"
	"smartpesa/internal/forecast"
)

// Metrics holds all Prometheus metrics for the application on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Forecast metrics
	ForecastsTotal *prometheus.CounterVec
	FitDuration    *prometheus.HistogramVec

	// Credit metrics
	ScoresComputed prometheus.Counter
	ScoreValues    prometheus.Histogram

	// Alerting metrics
	AlertsDispatched *prometheus.CounterVec

	// Scheduler metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance with every collector registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "smartpesa"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ForecastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "requests_total",
			Help:      "Total number of forecasts by outcome",
		}, []string{"outcome"}),
		FitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "fit_duration_seconds",
			Help:      "Model fit duration by model",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"model"}),

		ScoresComputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "scores_computed_total",
			Help:      "Total number of credit scores computed and stored",
		}),
		ScoreValues: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "credit",
			Name:      "score",
			Help:      "Distribution of computed SmartPesa scores",
			Buckets:   prometheus.LinearBuckets(100, 100, 9),
		}),

		AlertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_dispatched_total",
			Help:      "Total number of risk alerts dispatched by level and result",
		}, []string{"level", "result"}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by job and status",
		}, []string{"job", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

// ObserveFit records a model fit duration.
func (m *Metrics) ObserveFit(model string, d time.Duration) {
	m.FitDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ForecastCompleted counts a forecast outcome.
func (m *Metrics) ForecastCompleted(outcome string) {
	m.ForecastsTotal.WithLabelValues(outcome).Inc()
}

// ScoreComputed counts a stored credit score and records its value.
func (m *Metrics) ScoreComputed(score int) {
	m.ScoresComputed.Inc()
	m.ScoreValues.Observe(float64(score))
}

// AlertDispatched counts a risk alert delivery attempt.
func (m *Metrics) AlertDispatched(level, result string) {
	m.AlertsDispatched.WithLabelValues(level, result).Inc()
}

// RecordJob records a scheduled job run.
func (m *Metrics) RecordJob(job, status string, d time.Duration) {
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ObserveRequest records an HTTP request duration.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var (
	_ forecast.Recorder = (*Metrics)(nil)
	_ credit.Recorder   = (*Metrics)(nil)
)
