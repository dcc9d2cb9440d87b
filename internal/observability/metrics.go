package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	registrySize prometheus.Gauge
	runsEvicted  prometheus.Counter

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec

	gatewayAttempts  *prometheus.CounterVec
	gatewayFallbacks *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runsStarted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_runs_started_total",
					Help: "Total runs started by agent type.",
				},
				[]string{"agent_type"},
			),
			runsFinished: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_runs_finished_total",
					Help: "Total runs reaching a terminal status by agent type and status.",
				},
				[]string{"agent_type", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "openrunner_run_duration_seconds",
					Help:    "Run duration from start to terminal status by agent type.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent_type"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "openrunner_active_runs",
					Help: "Runs currently driven by an agent handle.",
				},
			),
			registrySize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "openrunner_registry_runs",
					Help: "Run records currently held in memory.",
				},
			),
			runsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "openrunner_runs_evicted_total",
					Help: "Terminal runs evicted by age-based cleanup.",
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_agent_run_total",
					Help: "Total agent invocations by agent and status.",
				},
				[]string{"agent", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "openrunner_agent_run_duration_seconds",
					Help:    "Agent invocation duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_agent_errors_total",
					Help: "Total agent errors by agent.",
				},
				[]string{"agent"},
			),
			gatewayAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_gateway_attempts_total",
					Help: "Gateway provider attempts by provider and status.",
				},
				[]string{"provider", "status"},
			),
			gatewayFallbacks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_gateway_fallbacks_total",
					Help: "Gateway fallbacks by the provider that failed.",
				},
				[]string{"provider"},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "openrunner_http_requests_total",
					Help: "HTTP requests by route and status code class.",
				},
				[]string{"route", "code"},
			),
		}

		prometheus.MustRegister(
			m.runsStarted,
			m.runsFinished,
			m.runDuration,
			m.activeRuns,
			m.registrySize,
			m.runsEvicted,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.gatewayAttempts,
			m.gatewayFallbacks,
			m.httpRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordRunStarted(agentType string) {
	m := getMetrics()
	m.runsStarted.WithLabelValues(agentType).Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished is called once per started run, whatever its terminal status.
func RecordRunFinished(agentType, status string, duration time.Duration) {
	m := getMetrics()
	m.runsFinished.WithLabelValues(agentType, status).Inc()
	m.runDuration.WithLabelValues(agentType).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

func SetRegistrySize(count int) {
	m := getMetrics()
	m.registrySize.Set(float64(count))
}

func RecordRunsEvicted(count int) {
	m := getMetrics()
	m.runsEvicted.Add(float64(count))
}

func RecordAgentRun(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(agent, status).Inc()
	m.agentRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(agent).Inc()
	}
}

func RecordGatewayAttempt(provider string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.gatewayAttempts.WithLabelValues(provider, status).Inc()
}

func RecordGatewayFallback(failedProvider string) {
	m := getMetrics()
	m.gatewayFallbacks.WithLabelValues(failedProvider).Inc()
}

func RecordHTTPRequest(route string, code int) {
	m := getMetrics()
	class := "5xx"
	switch {
	case code < 300:
		class = "2xx"
	case code < 400:
		class = "3xx"
	case code < 500:
		class = "4xx"
	}
	m.httpRequests.WithLabelValues(route, class).Inc()
}
