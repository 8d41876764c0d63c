// Package metrics exposes Prometheus collectors for the bot service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	botMessagesTotal           *prometheus.CounterVec
	botTasksTotal              *prometheus.CounterVec
	botTaskDurationSeconds     *prometheus.HistogramVec
	botGroupTransitionsTotal   *prometheus.CounterVec
	botSendsTotal              *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		botMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_messages_total",
				Help: "Inbound messages by guard outcome (allowed, duplicate, cooldown, rate_limited).",
			},
			[]string{"outcome"},
		)

		botTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_tasks_total",
				Help: "Task executions by task name and outcome.",
			},
			[]string{"task", "outcome"},
		)

		botTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_task_duration_seconds",
				Help:    "Histogram of task handler latencies by task name.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"task"},
		)

		botGroupTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_group_transitions_total",
				Help: "Group lifecycle transitions by target status.",
			},
			[]string{"status"},
		)

		botSendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_sends_total",
				Help: "Outbound sends by channel and result.",
			},
			[]string{"channel", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveMessage records a guard decision for an inbound message.
func ObserveMessage(outcome string) {
	if botMessagesTotal == nil {
		return
	}
	botMessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveTask records one task execution.
func ObserveTask(task, outcome string, duration time.Duration) {
	if botTasksTotal == nil {
		return
	}
	botTasksTotal.WithLabelValues(task, outcome).Inc()
	botTaskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveGroupTransition records a group moving to a new status.
func ObserveGroupTransition(status string) {
	if botGroupTransitionsTotal == nil {
		return
	}
	botGroupTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveSend records an outbound delivery attempt.
func ObserveSend(channel string, err error) {
	if botSendsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	botSendsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
