package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhea-ai/rhea/pkg/scheduler"
)

// Metrics collects the fabric's counters and histograms on a private
// prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	findRequests prometheus.Counter
	findLatency  prometheus.Histogram
	execRequests prometheus.Counter
	execSuccess  prometheus.Counter
	execFailure  prometheus.Counter
	execRuntime  prometheus.Histogram
}

// NewMetrics creates the metric set. When a handle registry is supplied, a
// gauge over its size is exported as well.
func NewMetrics(handles scheduler.HandleRegistry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		findRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "find_tools_requests_total",
			Help: "Total number of calls to the find_tools tool.",
		}),
		findLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "find_tools_request_latency_seconds",
			Help:    "Histogram of find_tools request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		execRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tool_execution_request_total",
			Help: "Total number of tool executions (excluding find_tools).",
		}),
		execSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "successful_tool_executions",
			Help: "Total number of successful tool executions.",
		}),
		execFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "failed_tool_executions",
			Help: "Total number of failed tool executions.",
		}),
		execRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tool_execution_runtime_seconds",
			Help:    "Histogram of tool execution runtimes.",
			Buckets: prometheus.LinearBuckets(1, 15, 40), // 1s to 586s
		}),
	}

	m.registry.MustRegister(
		m.findRequests, m.findLatency,
		m.execRequests, m.execSuccess, m.execFailure, m.execRuntime,
	)

	if handles != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "agent_handle_fields_total",
			Help: "Number of worker handles in the shared registry.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := handles.Count(ctx)
			if err != nil {
				return 0
			}
			return float64(n)
		}))
	}

	return m
}

// RecordFind records one find_tools request.
func (m *Metrics) RecordFind(duration time.Duration) {
	if m == nil {
		return
	}
	m.findRequests.Inc()
	m.findLatency.Observe(duration.Seconds())
}

// RecordExecution records one tool execution and its outcome.
func (m *Metrics) RecordExecution(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.execRequests.Inc()
	m.execRuntime.Observe(duration.Seconds())
	if success {
		m.execSuccess.Inc()
	} else {
		m.execFailure.Inc()
	}
}

// Handler returns the prometheus text exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
