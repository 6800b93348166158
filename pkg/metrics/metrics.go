package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Relay side.
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec

	// Pipeline side: the request counters a developer watches while tuning
	// a page.
	PipelineRequestsTotal *prometheus.CounterVec
	InjectionsTotal       *prometheus.CounterVec
	TrackedImageURLs      prometheus.Gauge
)

var initOnce sync.Once

// Init registers every collector with the default registry. It is safe to
// call more than once.
func Init() {
	initOnce.Do(register)
}

func register() {
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumos_analyses_total",
			Help: "Total number of image analyses handled by the relay.",
		},
		[]string{"status", "code"}, // status: success, failure
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumos_analysis_duration_seconds",
			Help:    "Duration of image analyses including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 12, 30},
		},
		[]string{"source"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumos_analysis_cache_lookups_total",
			Help: "Relay cache lookups by result.",
		},
		[]string{"result"}, // hit, miss, error
	)

	PipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumos_pipeline_requests_total",
			Help: "Analysis requests issued by the page pipeline.",
		},
		[]string{"result"}, // requested, success, failure
	)

	InjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumos_injections_total",
			Help: "Alt-text injection outcomes by reason.",
		},
		[]string{"reason"},
	)

	TrackedImageURLs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumos_tracked_image_urls",
			Help: "Distinct image URLs known to the page pipeline.",
		},
	)
}
