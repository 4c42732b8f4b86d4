// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the service records. One instance is
// wired through the application; tests construct their own on a private
// registry so parallel tests do not collide.
type Metrics struct {
	registry *prometheus.Registry

	PipelineProcessed *prometheus.CounterVec
	PipelineDropped   *prometheus.CounterVec
	PipelineLatency   *prometheus.HistogramVec

	BusPublished *prometheus.CounterVec
	BusErrors    *prometheus.CounterVec

	DealsUpserted  *prometheus.CounterVec
	EventsEmitted  *prometheus.CounterVec
	AlertsSent     prometheus.Counter
	HotDealsSent   prometheus.Counter
	WatchesScanned prometheus.Counter

	SessionsActive  prometheus.Gauge
	SessionMessages *prometheus.CounterVec
	SessionDropped  prometheus.Counter

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	IntentParses     *prometheus.CounterVec
	ModelCallLatency prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New builds a Metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PipelineProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_pipeline_processed_total",
			Help: "Messages processed per pipeline stage.",
		}, []string{"stage"}),
		PipelineDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_pipeline_dropped_total",
			Help: "Messages dropped per pipeline stage (malformed or below threshold).",
		}, []string{"stage", "reason"}),
		PipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealradar_pipeline_latency_seconds",
			Help:    "Handler latency per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_bus_published_total",
			Help: "Messages published per topic.",
		}, []string{"topic"}),
		BusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_bus_errors_total",
			Help: "Publish failures per topic.",
		}, []string{"topic"}),
		DealsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_deals_upserted_total",
			Help: "Deal rows written, split by insert vs update.",
		}, []string{"op"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_deal_events_total",
			Help: "Deal events emitted, per event type.",
		}, []string{"event_type"}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealradar_price_alerts_total",
			Help: "Price-watch alerts delivered.",
		}),
		HotDealsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealradar_hot_deals_total",
			Help: "Hot-deal broadcasts delivered.",
		}),
		WatchesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealradar_watch_scans_total",
			Help: "Watch-monitor scan passes completed.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dealradar_sessions_active",
			Help: "Currently connected websocket sessions.",
		}),
		SessionMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_session_messages_total",
			Help: "Messages sent to sessions, split by delivery outcome.",
		}, []string{"outcome"}),
		SessionDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealradar_sessions_dropped_total",
			Help: "Sessions dropped after repeated send failures.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_cache_hits_total",
			Help: "Cache hits per response family.",
		}, []string{"family"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_cache_misses_total",
			Help: "Cache misses per response family.",
		}, []string{"family"}),
		IntentParses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_intent_parses_total",
			Help: "Intent parses, split by path (model, fallback, cache).",
		}, []string{"path"}),
		ModelCallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealradar_model_call_seconds",
			Help:    "External text-model call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealradar_http_requests_total",
			Help: "HTTP requests per route and status class.",
		}, []string{"route", "method", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealradar_http_request_seconds",
			Help:    "HTTP handler latency per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.PipelineProcessed, m.PipelineDropped, m.PipelineLatency,
		m.BusPublished, m.BusErrors,
		m.DealsUpserted, m.EventsEmitted,
		m.AlertsSent, m.HotDealsSent, m.WatchesScanned,
		m.SessionsActive, m.SessionMessages, m.SessionDropped,
		m.CacheHits, m.CacheMisses,
		m.IntentParses, m.ModelCallLatency,
		m.HTTPRequests, m.HTTPLatency,
	)
	return m
}

// Handler serves this metric set in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
