// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package compile exposes Prometheus counters for a running
// flywall-compile -serve instance (spec.md §6.3/§7's per-compile status
// and diagnostic severities), in the struct-of-metrics-plus-manual-
// Describe/Collect shape internal/ebpf/metrics uses for its own Metrics
// type, rather than the broken internal/metrics.Registry.
package compile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the compile-service Prometheus instruments.
type Metrics struct {
	CompilesTotal    *prometheus.CounterVec
	CompileDuration  prometheus.Histogram
	DiagnosticsTotal *prometheus.CounterVec
	StagesRun        prometheus.Counter // registered, but nothing in this module increments it
}

// NewMetrics builds an unregistered Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		CompilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flywall_compile_compiles_total",
			Help: "Total number of firewalls compiled, by outcome status",
		}, []string{"status"}),

		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flywall_compile_duration_seconds",
			Help:    "Wall-clock duration of a single firewall compile",
			Buckets: prometheus.DefBuckets,
		}),

		DiagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flywall_compile_diagnostics_total",
			Help: "Total diagnostics emitted during compiles, by severity",
		}, []string{"severity"}),

		StagesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_compile_stages_run_total",
			Help: "Total number of pipeline stages run across all compiles",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.CompilesTotal.Describe(ch)
	m.CompileDuration.Describe(ch)
	m.DiagnosticsTotal.Describe(ch)
	m.StagesRun.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.CompilesTotal.Collect(ch)
	m.CompileDuration.Collect(ch)
	m.DiagnosticsTotal.Collect(ch)
	m.StagesRun.Collect(ch)
}

// RegisterMetrics registers m with the default Prometheus registry.
func (m *Metrics) RegisterMetrics() {
	prometheus.MustRegister(m)
}

// ObserveCompile records one finished compile's outcome and duration.
// status is a driver.Result.Status value ("compiled", "compiled with
// warnings", "compiled with errors"); warnings/errors are the diag.Sink
// counts for that compile.
func (m *Metrics) ObserveCompile(status string, elapsed time.Duration, warnings, errors int) {
	m.CompilesTotal.WithLabelValues(status).Inc()
	m.CompileDuration.Observe(elapsed.Seconds())
	if warnings > 0 {
		m.DiagnosticsTotal.WithLabelValues("warning").Add(float64(warnings))
	}
	if errors > 0 {
		m.DiagnosticsTotal.WithLabelValues("error").Add(float64(errors))
	}
}
