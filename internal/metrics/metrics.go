// Package metrics provides Prometheus instruments for the leadsync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Change feed and refresh
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	FeedEventsTotal *prometheus.CounterVec
	FeedReconnects  prometheus.Counter
	FastPathAppends prometheus.Counter
	FeedConnected   prometheus.Gauge
	CollectionSize  *prometheus.GaugeVec

	// Mutations and side effects
	OptimisticWrites *prometheus.CounterVec
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Rollups
	LeadsByFreshness   *prometheus.GaugeVec
	ConversionRate     prometheus.Gauge
	AvgResponseSeconds prometheus.Gauge
}

// New creates all instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.RefreshTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_refresh_total",
			Help: "Full collection refreshes by entity and outcome",
		},
		[]string{"entity", "status"},
	)
	m.RefreshDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadsync_refresh_duration_seconds",
			Help:    "Duration of full collection refreshes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)
	m.FeedEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_feed_events_total",
			Help: "Change feed notifications received",
		},
		[]string{"entity", "event"},
	)
	m.FeedReconnects = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "leadsync_feed_reconnects_total",
			Help: "Reconnect signals observed on the change feed",
		},
	)
	m.FastPathAppends = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "leadsync_fast_path_appends_total",
			Help: "Messages appended ahead of a full refresh for an open conversation",
		},
	)
	m.FeedConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadsync_feed_connected",
			Help: "1 while the change feed subscription is delivering events",
		},
	)
	m.CollectionSize = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadsync_collection_size",
			Help: "Records currently held per entity collection",
		},
		[]string{"entity"},
	)
	m.OptimisticWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_optimistic_writes_total",
			Help: "Durable writes behind optimistic patches by outcome",
		},
		[]string{"status"},
	)
	m.DispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_dispatch_total",
			Help: "Automation dispatches by workflow and outcome",
		},
		[]string{"workflow", "status"},
	)
	m.DispatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadsync_dispatch_duration_seconds",
			Help:    "Duration of automation dispatches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)
	m.LeadsByFreshness = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadsync_leads_by_freshness",
			Help: "Leads per freshness status at the last recompute",
		},
		[]string{"status"},
	)
	m.ConversionRate = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadsync_conversion_rate_percent",
			Help: "Share of leads in the terminal stage",
		},
	)
	m.AvgResponseSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadsync_avg_response_time_seconds",
			Help: "Mean first response time over leads that have one",
		},
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordRefresh(entity string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RefreshTotal.WithLabelValues(entity, status).Inc()
	m.RefreshDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

func (m *Metrics) RecordFeedEvent(entity, event string) {
	if m == nil {
		return
	}
	m.FeedEventsTotal.WithLabelValues(entity, event).Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

func (m *Metrics) RecordFastPathAppend() {
	if m == nil {
		return
	}
	m.FastPathAppends.Inc()
}

func (m *Metrics) SetFeedConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.FeedConnected.Set(1)
		return
	}
	m.FeedConnected.Set(0)
}

func (m *Metrics) SetCollectionSize(entity string, size int) {
	if m == nil {
		return
	}
	m.CollectionSize.WithLabelValues(entity).Set(float64(size))
}

func (m *Metrics) RecordOptimisticWrite(status string) {
	if m == nil {
		return
	}
	m.OptimisticWrites.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDispatch(workflow, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(workflow, status).Inc()
	m.DispatchDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// SetRollup publishes the latest metrics snapshot values.
func (m *Metrics) SetRollup(conversionRate int, avgResponseSeconds int64) {
	if m == nil {
		return
	}
	m.ConversionRate.Set(float64(conversionRate))
	m.AvgResponseSeconds.Set(float64(avgResponseSeconds))
}

func (m *Metrics) SetFreshnessCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.LeadsByFreshness.Reset()
	for status, count := range counts {
		m.LeadsByFreshness.WithLabelValues(status).Set(float64(count))
	}
}
