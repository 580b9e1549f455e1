package handlers

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Prometheus metrics for chat traffic.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmchat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lmchat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, including the whole streamed reply.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmchat_replies_total",
			Help: "Streamed replies by outcome.",
		},
		[]string{"outcome"},
	)
	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lmchat_frames_sent_total",
			Help: "Reply frames written to clients.",
		},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lmchat_rate_limited_total",
			Help: "Turns rejected by the per-client rate limit.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(repliesTotal)
	prometheus.MustRegister(framesSent)
	prometheus.MustRegister(rateLimited)
}
