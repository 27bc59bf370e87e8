// Package observability provides Prometheus instrumentation for the
// simulation engine and the HTTP API.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsResolved counts resolved agent actions by type and status.
	ActionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_actions_resolved_total",
		Help: "Agent actions resolved, by action type and status",
	}, []string{"action_type", "status"})

	// OracleFailures counts decision-oracle failures substituted with do_nothing.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_oracle_failures_total",
		Help: "Decision oracle calls that failed or timed out",
	})

	// RunsTotal counts finished runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_runs_total",
		Help: "Simulation runs finished, by terminal status",
	}, []string{"status"})

	// SwapVolume accumulates swap input volume, by asset.
	SwapVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_swap_volume_total",
		Help: "Cumulative swap input volume",
	}, []string{"asset"})

	// MarketEvents counts scheduled market-maker and shock events.
	MarketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_market_events_total",
		Help: "Scheduled market events applied, by kind",
	}, []string{"kind"})

	// TurnDuration observes wall time per simulated turn.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_turn_duration_seconds",
		Help:    "Wall-clock duration of one simulated turn",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected live-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and duration for every HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
