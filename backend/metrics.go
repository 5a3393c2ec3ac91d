package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loveai_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loveai_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	interactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loveai_interactions_total",
			Help: "Recorded interactions by type",
		},
		[]string{"type"},
	)

	matchesFormedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loveai_matches_formed_total",
		Help: "Matches created from mutual likes",
	})

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loveai_messages_total",
			Help: "Stored chat messages, by whether moderation flagged them",
		},
		[]string{"flagged"},
	)

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loveai_ws_connections",
		Help: "Open chat WebSocket connections",
	})
)

func observeRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
