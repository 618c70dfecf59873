package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingestd"

var (
	registry = prometheus.NewRegistry()

	extractTier = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extract_tier_total",
		Help:      "Web extraction attempts by tier and outcome",
	}, []string{"tier", "outcome"})

	ingestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_total",
		Help:      "Ingestion runs by flow and resulting status",
	}, []string{"flow", "status"})

	ingestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Duration of ingestion runs",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"flow"})

	urlBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "url_blocked_total",
		Help:      "URLs rejected by the safety guard or classified as blocked",
	}, []string{"reason"})
)

func init() {
	registry.MustRegister(
		extractTier,
		ingestTotal,
		ingestDuration,
		urlBlocked,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Tier names
const (
	TierStatic   = "static"
	TierEmbedded = "embedded"
	TierHeadless = "headless"
)

// Flow names
const (
	FlowKnowledge = "knowledge"
	FlowCatalog   = "catalog"
)

// ObserveTier counts one tier attempt
func ObserveTier(tier, outcome string) {
	extractTier.WithLabelValues(tier, outcome).Inc()
}

// ObserveIngest counts a finished ingestion run and its duration
func ObserveIngest(flow, status string, started time.Time) {
	ingestTotal.WithLabelValues(flow, status).Inc()
	ingestDuration.WithLabelValues(flow).Observe(time.Since(started).Seconds())
}

// ObserveBlocked counts a rejected or blocked URL
func ObserveBlocked(reason string) {
	urlBlocked.WithLabelValues(reason).Inc()
}

// Handler serves the metrics registry
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
