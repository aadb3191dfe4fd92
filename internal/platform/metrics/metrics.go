// Package metrics provides Prometheus instrumentation for the HTTP layer,
// the observation service, and the event publisher. It lives in its own
// package so domain packages can record metrics without importing the
// transport layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdr_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	obsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdr_obs_operations_total",
			Help: "Total number of observation service operations",
		},
		[]string{"operation", "outcome"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdr_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"topic", "outcome"},
	)
)

// Middleware records request count and latency per route. It uses the echo
// route template (/api/v1/observations/:id) rather than the raw URL so label
// cardinality stays bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == "/metrics" {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)

			httpRequestsTotal.WithLabelValues(method, path, status).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// RecordObsOperation counts one observation service operation with its
// outcome label ("ok" or an error kind).
func RecordObsOperation(operation, outcome string) {
	obsOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordEventPublished counts one lifecycle event publish attempt.
func RecordEventPublished(topic string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	eventsPublishedTotal.WithLabelValues(topic, outcome).Inc()
}
