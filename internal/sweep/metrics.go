// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vetpay_sweep"

// Collector is a prometheus.Collector that collects metrics about sweeps.
type Collector struct {
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration prometheus.Histogram
	lastRun  prometheus.Gauge
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "The number of sweeps run, by result.",
			}, []string{"result"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "items_total",
				Help:      "The number of items handled by sweeps, by step and outcome.",
			}, []string{"step", "outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "duration_seconds",
				Help:      "The time taken by a sweep.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "The time the last sweep started.",
			},
		),
	}
}

func (c *Collector) observe(r Result) {
	result := "ok"
	if !r.OK() {
		result = "incomplete"
	}
	c.runs.WithLabelValues(result).Inc()

	for step, s := range map[string]Step{
		"payments":    r.Payments,
		"escalations": r.Escalations,
		"defaults":    r.Defaults,
	} {
		c.items.WithLabelValues(step, "processed").Add(float64(s.Processed))
		c.items.WithLabelValues(step, "failed").Add(float64(s.Failed))
	}
	c.items.WithLabelValues("initiations", "processed").Add(float64(r.Initiated))

	c.duration.Observe(r.Duration.Seconds())
	c.lastRun.Set(float64(r.StartedAt.Unix()))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.items.Describe(ch)
	c.duration.Describe(ch)
	c.lastRun.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.items.Collect(ch)
	c.duration.Collect(ch)
	c.lastRun.Collect(ch)
}
