// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/vetpay/core/logger"
)

const metricsNamespace = "vetpay"

// Collector is a prometheus.Collector that collects metrics about API
// requests.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "The number of API requests, by route and status code.",
			}, []string{"route", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "The time taken to serve API requests.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			}, []string{"route"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.duration.Collect(ch)
}

func (c *Collector) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		route := "unknown"
		if current := mux.CurrentRoute(req); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		c.requests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		c.duration.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

var (
	fundBalanceDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "fund", "balance_cents"),
		"The balance of the guarantee fund.", nil, nil)
	fundExposureDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "fund", "exposure_cents"),
		"The remaining balance across active plans.", nil, nil)
	fundActivePlansDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "fund", "active_plans"),
		"The number of active plans.", nil, nil)
	fundCoverageDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "fund", "coverage_ratio"),
		"The fund balance over the exposure.", nil, nil)
)

// fundScrapeTimeout bounds the queries made on each scrape.
const fundScrapeTimeout = 10 * time.Second

// FundCollector is a prometheus.Collector reporting the health of the
// guarantee fund at scrape time.
type FundCollector struct {
	fund   FundService
	logger logger.Logger
}

// NewFundCollector returns a new FundCollector.
func NewFundCollector(fund FundService, logger logger.Logger) *FundCollector {
	return &FundCollector{fund: fund, logger: logger}
}

// Describe is part of the prometheus.Collector interface.
func (c *FundCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- fundBalanceDesc
	ch <- fundExposureDesc
	ch <- fundActivePlansDesc
	ch <- fundCoverageDesc
}

// Collect is part of the prometheus.Collector interface.
func (c *FundCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), fundScrapeTimeout)
	defer cancel()

	health, err := c.fund.Health(ctx)
	if err != nil {
		c.logger.Warningf("reading fund health: %v", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(fundBalanceDesc, prometheus.GaugeValue, float64(health.Balance))
	ch <- prometheus.MustNewConstMetric(fundExposureDesc, prometheus.GaugeValue, float64(health.Exposure))
	ch <- prometheus.MustNewConstMetric(fundActivePlansDesc, prometheus.GaugeValue, float64(health.ActivePlans))
	ch <- prometheus.MustNewConstMetric(fundCoverageDesc, prometheus.GaugeValue, health.CoverageRatio)
}
