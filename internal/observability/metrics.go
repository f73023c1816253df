package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpagent"

type moduleMetrics struct {
	providerState   *prometheus.GaugeVec
	providerStarts  *prometheus.CounterVec
	registeredTools *prometheus.GaugeVec

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchOutput   *prometheus.HistogramVec

	queryTotal    *prometheus.CounterVec
	queryDuration prometheus.Histogram
	queryRounds   prometheus.Histogram

	modelCallDuration *prometheus.HistogramVec
	modelCallErrors   *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "provider_ready",
					Help:      "Provider readiness (1 ready, 0 otherwise).",
				},
				[]string{"provider"},
			),
			providerStarts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_start_total",
					Help:      "Provider start attempts by provider and status.",
				},
				[]string{"provider", "status"},
			),
			registeredTools: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "registered_tools",
					Help:      "Tools registered per provider.",
				},
				[]string{"provider"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_total",
					Help:      "Tool dispatches by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_duration_seconds",
					Help:      "Tool dispatch duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			dispatchOutput: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_output_chars",
					Help:      "Characters returned to the model per dispatch, before truncation.",
					Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
				},
				[]string{"provider"},
			),
			queryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "query_total",
					Help:      "Agent queries by outcome.",
				},
				[]string{"outcome"},
			),
			queryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "query_duration_seconds",
					Help:      "Agent query duration in seconds.",
					Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
				},
			),
			queryRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "query_rounds",
					Help:      "Model rounds per agent query.",
					Buckets:   prometheus.LinearBuckets(1, 2, 12),
				},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "model_call_duration_seconds",
					Help:      "Model completion latency in seconds by backend.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend"},
			),
			modelCallErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_call_errors_total",
					Help:      "Failed model completions by backend.",
				},
				[]string{"backend"},
			),
		}

		prometheus.MustRegister(
			m.providerState,
			m.providerStarts,
			m.registeredTools,
			m.dispatchTotal,
			m.dispatchDuration,
			m.dispatchOutput,
			m.queryTotal,
			m.queryDuration,
			m.queryRounds,
			m.modelCallDuration,
			m.modelCallErrors,
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

// SetProviderReady records whether a provider is currently usable.
func SetProviderReady(provider string, ready bool) {
	m := getMetrics()
	value := 0.0
	if ready {
		value = 1.0
	}
	m.providerState.WithLabelValues(provider).Set(value)
}

func RecordProviderStart(provider string, success bool) {
	m := getMetrics()
	m.providerStarts.WithLabelValues(provider, status(success)).Inc()
}

func SetRegisteredTools(provider string, count int) {
	getMetrics().registeredTools.WithLabelValues(provider).Set(float64(count))
}

// RecordToolDispatch records one dispatch. outcome is "success" or the
// diagnostic class returned to the model.
func RecordToolDispatch(provider, outcome string, duration time.Duration, outputChars int) {
	m := getMetrics()
	if provider == "" {
		provider = "unresolved"
	}
	m.dispatchTotal.WithLabelValues(provider, outcome).Inc()
	m.dispatchDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.dispatchOutput.WithLabelValues(provider).Observe(float64(outputChars))
}

func RecordQuery(outcome string, duration time.Duration, rounds int) {
	m := getMetrics()
	m.queryTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(duration.Seconds())
	m.queryRounds.Observe(float64(rounds))
}

func RecordModelCall(backend string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if !success {
		m.modelCallErrors.WithLabelValues(backend).Inc()
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
