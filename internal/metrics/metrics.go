package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	RunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Total workflow runs by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_run_duration_seconds",
			Help:    "Workflow run duration",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	MXCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mx_cache_hits_total",
			Help: "Domain MX lookups answered from cache",
		},
	)

	MXCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mx_cache_misses_total",
			Help: "Domain MX lookups that went to DNS",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(RunsCompleted)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(MXCacheHits)
	prometheus.MustRegister(MXCacheMisses)
}
