package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

// Collector turns the event stream into prometheus series. It owns its
// registry so several collectors can coexist in tests.
type Collector struct {
	reg *prometheus.Registry

	RunsTotal          prometheus.Counter
	ItemsProcessed     prometheus.Counter
	ItemsFailed        prometheus.Counter
	ItemsSkipped       prometheus.Counter
	ProbeFailures      prometheus.Counter
	RunsCanceled       prometheus.Counter
	BytesReclaimed     prometheus.Gauge
	CurrentProgress    prometheus.Gauge
	ItemDuration       prometheus.Histogram
	LastRunTimestamp   prometheus.Gauge
	LastRunDurationSec prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		RunsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mediaconv_runs_total",
			Help: "Total number of conversion runs started",
		}),
		ItemsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "mediaconv_items_processed_total",
			Help: "Files converted and committed",
		}),
		ItemsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "mediaconv_items_failed_total",
			Help: "Files whose conversion or replace failed",
		}),
		ItemsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "mediaconv_items_skipped_total",
			Help: "Files judged already converted",
		}),
		ProbeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mediaconv_probe_failures_total",
			Help: "Files the media inspection engine could not read",
		}),
		RunsCanceled: f.NewCounter(prometheus.CounterOpts{
			Name: "mediaconv_runs_canceled_total",
			Help: "Runs stopped by cancellation",
		}),
		BytesReclaimed: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediaconv_bytes_reclaimed",
			Help: "Cumulative bytes saved by conversion, negative when outputs grew",
		}),
		CurrentProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediaconv_current_item_progress_percent",
			Help: "Progress of the file being converted",
		}),
		ItemDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediaconv_item_duration_seconds",
			Help:    "Time spent converting one file",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediaconv_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		LastRunDurationSec: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediaconv_last_run_duration_seconds",
			Help: "Elapsed processing time of the last run",
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func (c *Collector) Notify(e events.Event) {
	switch e.Kind {
	case events.KindRunStarted:
		c.RunsTotal.Inc()
	case events.KindProgress:
		c.CurrentProgress.Set(float64(e.Percent))
	case events.KindSkipped:
		c.ItemsSkipped.Inc()
	case events.KindProbeFailed:
		c.ProbeFailures.Inc()
	case events.KindItemDone:
		c.ItemsProcessed.Inc()
		c.BytesReclaimed.Add(float64(e.Bytes))
		c.ItemDuration.Observe(e.Duration.Seconds())
		c.CurrentProgress.Set(0)
	case events.KindItemFailed:
		c.ItemsFailed.Inc()
		c.CurrentProgress.Set(0)
	case events.KindCanceled:
		c.CurrentProgress.Set(0)
	case events.KindSummary:
		if e.Totals != nil && e.Totals.Canceled {
			c.RunsCanceled.Inc()
		}
		c.LastRunTimestamp.Set(float64(e.Time.Unix()))
		c.LastRunDurationSec.Set(e.Duration.Seconds())
	}
}
