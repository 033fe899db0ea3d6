package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmill",
			Name:      "jobs_submitted_total",
			Help:      "Conversion jobs submitted, by source type",
		},
		[]string{"source_type"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmill",
			Name:      "jobs_finished_total",
			Help:      "Main jobs reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	pagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmill",
			Name:      "pages_processed_total",
			Help:      "Page conversions by result (completed, failed)",
		},
		[]string{"result"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docmill",
			Name:      "page_retries_total",
			Help:      "Total number of user-initiated page retries",
		},
	)

	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docmill",
			Name:      "handler_duration_seconds",
			Help:      "Duration of work item handlers by kind",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docmill",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(jobsSubmitted, jobsFinished, pagesProcessed, retriesTotal, handlerDuration, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncSubmitted(sourceType string) { jobsSubmitted.WithLabelValues(sourceType).Inc() }

func IncFinished(status string) { jobsFinished.WithLabelValues(status).Inc() }

func IncPageProcessed(result string) { pagesProcessed.WithLabelValues(result).Inc() }

func IncRetry() { retriesTotal.Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func ObserveHandler(kind string, dur time.Duration) {
	handlerDuration.WithLabelValues(kind).Observe(dur.Seconds())
}
