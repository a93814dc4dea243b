// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exporter

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/runnerchat/internal/detect"
	"github.com/jeranaias/runnerchat/internal/telemetry"
)

const namespace = "runnerchat"

// Metrics owns a private registry. Every method is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry
	platform string

	// Hardware gauges, labelled by platform
	GPUUtilization  *prometheus.GaugeVec
	GPUMemoryUsage  *prometheus.GaugeVec
	TokensPerSecond *prometheus.GaugeVec
	InferenceActive *prometheus.GaugeVec
	Latency         *prometheus.GaugeVec
	Temperature     *prometheus.GaugeVec
	LastSample      *prometheus.GaugeVec

	// Request metrics from the sink endpoints
	Requests         prometheus.Counter
	TokensIn         prometheus.Counter
	TokensOut        prometheus.Counter
	ResponseTime     prometheus.Histogram
	TimeToFirstToken prometheus.Histogram
	Errors           *prometheus.CounterVec
}

// New creates and registers all metrics. platform labels the hardware gauges.
func New(platform string) *Metrics {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hardware",
			Name:      name,
			Help:      help,
		}, []string{"platform"})
	}
	latencyBuckets := prometheus.ExponentialBuckets(0.05, 2, 12)

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		platform: platform,

		GPUUtilization:  gauge("gpu_utilization_percent", "GPU busy percentage"),
		GPUMemoryUsage:  gauge("gpu_memory_usage_percent", "GPU memory in use as a percentage"),
		TokensPerSecond: gauge("tokens_per_second", "Estimated generation speed"),
		InferenceActive: gauge("inference_active", "1 while a client is connected to the model server"),
		Latency:         gauge("latency_ms", "Estimated milliseconds per token"),
		Temperature:     gauge("temperature_celsius", "GPU temperature, 0 when unknown"),
		LastSample:      gauge("last_sample_timestamp_seconds", "Unix time of the last snapshot"),

		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Completed chat exchanges reported by clients",
		}),
		TokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "tokens_in_total",
			Help:      "Estimated input tokens",
		}),
		TokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "tokens_out_total",
			Help:      "Streamed token events",
		}),
		ResponseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "response_time_seconds",
			Help:      "Total response time per exchange",
			Buckets:   latencyBuckets,
		}),
		TimeToFirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "time_to_first_token_seconds",
			Help:      "Time to first token per exchange",
			Buckets:   latencyBuckets,
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Failed chat exchanges by classification",
		}, []string{"error_type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GPUUtilization,
		m.GPUMemoryUsage,
		m.TokensPerSecond,
		m.InferenceActive,
		m.Latency,
		m.Temperature,
		m.LastSample,
		m.Requests,
		m.TokensIn,
		m.TokensOut,
		m.ResponseTime,
		m.TimeToFirstToken,
		m.Errors,
	)
	return m
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot sets the hardware gauges from s.
func (m *Metrics) ObserveSnapshot(s detect.Snapshot) {
	m.ObserveSnapshotAt(s, time.Now())
}

// ObserveSnapshotAt is ObserveSnapshot with an explicit sample time.
func (m *Metrics) ObserveSnapshotAt(s detect.Snapshot, at time.Time) {
	p := m.platform
	m.GPUUtilization.WithLabelValues(p).Set(s.GPUUtilization)
	m.GPUMemoryUsage.WithLabelValues(p).Set(s.GPUMemoryUsage)
	m.TokensPerSecond.WithLabelValues(p).Set(s.TokensPerSecond)
	m.Latency.WithLabelValues(p).Set(s.Latency)
	m.Temperature.WithLabelValues(p).Set(s.Temperature)
	m.LastSample.WithLabelValues(p).Set(float64(at.UnixMilli()) / 1000)

	active := 0.0
	if s.InferenceActive {
		active = 1
	}
	m.InferenceActive.WithLabelValues(p).Set(active)
}

// ObserveRequest records an accepted metrics report.
func (m *Metrics) ObserveRequest(r telemetry.MetricsReport) {
	m.Requests.Inc()
	m.TokensIn.Add(float64(r.TokensIn))
	m.TokensOut.Add(float64(r.TokensOut))
	m.ResponseTime.Observe(float64(r.ResponseTimeMs) / 1000)
	m.TimeToFirstToken.Observe(float64(r.TimeToFirstTokenMs) / 1000)
}

// ObserveError records an accepted error report.
func (m *Metrics) ObserveError(r telemetry.ErrorReport) {
	m.Errors.WithLabelValues(string(r.ErrorType)).Inc()
}
