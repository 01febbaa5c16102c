package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "delivery_tracking", Name: "active_sessions", Help: "Tracking sessions currently running"})

	PollsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "order_polls_total", Help: "Successful order snapshot fetches"})
	PollFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "order_poll_failures_total", Help: "Transient order fetch failures"})

	PositionsReceived = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "driver_positions_total", Help: "Driver position pushes received"})
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "channel_reconnects_total", Help: "Live-tracking channel reconnect attempts"})

	RouteResolutions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "route_resolutions_total", Help: "Successful route resolutions"})
	RouteFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "route_failures_total", Help: "Route resolutions that ended unavailable"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "delivery_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
