// Package metrics exposes Prometheus collectors for scrape runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adscraper/internal/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	AdsScraped      *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
	SessionRestarts prometheus.Counter
	ItemDuration    *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
	LastRunRecords  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AdsScraped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adscraper_ads_scraped_total",
				Help: "Ad creatives classified and emitted.",
			},
			[]string{"ad_type", "error"},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "adscraper_batch_duration_seconds",
				Help:    "Time spent processing one batch of creatives.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		SessionRestarts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "adscraper_session_restarts_total",
				Help: "Work items restarted on a fresh render session.",
			},
		),
		ItemDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adscraper_work_item_duration_seconds",
				Help:    "Duration of one advertiser work item.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adscraper_runs_total",
				Help: "Finished runs by mode and alert level.",
			},
			[]string{"mode", "level"},
		),
		LastRunRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "adscraper_last_run_records",
				Help: "Records emitted by the most recent run.",
			},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRecord(rec domain.AdRecord) {
	if m == nil {
		return
	}
	errLabel := "false"
	if rec.Error {
		errLabel = "true"
	}
	m.AdsScraped.WithLabelValues(string(rec.AdType), errLabel).Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionRestarted() {
	if m == nil {
		return
	}
	m.SessionRestarts.Inc()
}

func (m *Metrics) ObserveItem(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	m.ItemDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(mode domain.RunMode, level string, records int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(mode), level).Inc()
	m.LastRunRecords.Set(float64(records))
}
