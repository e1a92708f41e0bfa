package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Task metrics
	TasksSubmitted   *prometheus.CounterVec
	TasksRejected    *prometheus.CounterVec
	TasksFinished    *prometheus.CounterVec
	TaskQueueDepth   *prometheus.GaugeVec
	TaskStepDuration *prometheus.HistogramVec
	TasksSweptTotal  prometheus.Counter

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	ProviderHealth       *prometheus.GaugeVec

	// Progress metrics
	ProgressSubscribers   prometheus.Gauge
	ProgressDroppedTotal  prometheus.Counter
	ProgressWSConnections prometheus.Gauge

	// Analytics metrics
	AnalyticsRecordsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance registered on reg.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "clipforge"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Task metrics
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "submitted_total",
				Help:      "Total number of accepted task submissions",
			},
			[]string{"kind"},
		),
		TasksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "rejected_total",
				Help:      "Total number of rejected task submissions",
			},
			[]string{"kind", "reason"}, // reason: invalid_params, overloaded
		),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "finished_total",
				Help:      "Total number of tasks that reached a terminal state",
			},
			[]string{"kind", "status", "code"},
		),
		TaskQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "queue_depth",
				Help:      "Number of tasks by non-terminal state",
			},
			[]string{"state"}, // waiting, active
		),
		TaskStepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "step_duration_seconds",
				Help:      "Pipeline step duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind", "step"},
		),
		TasksSweptTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "swept_total",
				Help:      "Total number of terminal tasks removed after retention",
			},
		),

		// Provider metrics
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "capability", "status"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Provider call duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "capability"},
		),
		ProviderHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "health",
				Help:      "Provider health status (1=healthy, 0=unhealthy)",
			},
			[]string{"provider", "capability", "tier"},
		),

		// Progress metrics
		ProgressSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "progress",
				Name:      "subscribers",
				Help:      "Number of open progress subscriptions",
			},
		),
		ProgressDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "progress",
				Name:      "dropped_total",
				Help:      "Progress updates dropped for slow subscribers",
			},
		),
		ProgressWSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "progress",
				Name:      "ws_connections",
				Help:      "Number of open WebSocket connections",
			},
		),

		// Analytics metrics
		AnalyticsRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "records_total",
				Help:      "Analytics records by outcome",
			},
			[]string{"type", "outcome"}, // outcome: persisted, dropped, failed
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTaskSubmitted records an accepted submission.
func (m *Metrics) RecordTaskSubmitted(kind string) {
	if m == nil {
		return
	}
	m.TasksSubmitted.WithLabelValues(kind).Inc()
}

// RecordTaskRejected records a rejected submission.
func (m *Metrics) RecordTaskRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.TasksRejected.WithLabelValues(kind, reason).Inc()
}

// RecordTaskFinished records a task reaching a terminal state.
func (m *Metrics) RecordTaskFinished(kind, status, code string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(kind, status, code).Inc()
}

// SetQueueDepth sets the waiting and active gauges.
func (m *Metrics) SetQueueDepth(waiting, active int) {
	if m == nil {
		return
	}
	m.TaskQueueDepth.WithLabelValues("waiting").Set(float64(waiting))
	m.TaskQueueDepth.WithLabelValues("active").Set(float64(active))
}

// RecordStep records a pipeline step duration.
func (m *Metrics) RecordStep(kind, step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TaskStepDuration.WithLabelValues(kind, step).Observe(duration.Seconds())
}

// RecordSwept records tasks removed by the retention sweep.
func (m *Metrics) RecordSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TasksSweptTotal.Add(float64(n))
}

// RecordProviderCall records a provider call.
func (m *Metrics) RecordProviderCall(provider, capability string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(provider, capability, status).Inc()
	m.ProviderCallDuration.WithLabelValues(provider, capability).Observe(duration.Seconds())
}

// SetProviderHealth sets the health status of a provider.
func (m *Metrics) SetProviderHealth(provider, capability, tier string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ProviderHealth.WithLabelValues(provider, capability, tier).Set(value)
}

// AddSubscribers adjusts the open subscription gauge.
func (m *Metrics) AddSubscribers(delta int) {
	if m == nil {
		return
	}
	m.ProgressSubscribers.Add(float64(delta))
}

// RecordProgressDropped records an update dropped for a slow subscriber.
func (m *Metrics) RecordProgressDropped() {
	if m == nil {
		return
	}
	m.ProgressDroppedTotal.Inc()
}

// AddWSConnections adjusts the WebSocket connection gauge.
func (m *Metrics) AddWSConnections(delta int) {
	if m == nil {
		return
	}
	m.ProgressWSConnections.Add(float64(delta))
}

// RecordAnalytics records the outcome of one analytics record.
func (m *Metrics) RecordAnalytics(recordType, outcome string) {
	if m == nil {
		return
	}
	m.AnalyticsRecordsTotal.WithLabelValues(recordType, outcome).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
