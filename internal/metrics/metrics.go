// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts account/user runs by operation and outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portana_runs_total",
		Help: "Total number of recompute runs",
	}, []string{"operation", "status"})

	// RunDuration tracks run latency by operation.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portana_run_duration_seconds",
		Help:    "Recompute run latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"operation"})

	// TransactionsReplayed counts transactions folded by the replay engine.
	TransactionsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portana_transactions_replayed_total",
		Help: "Transactions applied by the replay engine",
	})

	// SnapshotsWritten counts position snapshot rows persisted.
	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portana_snapshots_written_total",
		Help: "Position snapshot rows written",
	})

	// RealizedPnLRows counts merged realized P&L rows persisted.
	RealizedPnLRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portana_realized_pnl_rows_total",
		Help: "Realized P&L rows written",
	})

	// SnapshotsPriced counts snapshots hydrated, by outcome (priced, missing, failed).
	SnapshotsPriced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portana_snapshots_priced_total",
		Help: "Snapshot price hydration outcomes",
	}, []string{"outcome"})

	// QuotesFetched counts market-data quote fetches by outcome.
	QuotesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portana_quotes_fetched_total",
		Help: "Market data quote fetches",
	}, []string{"outcome"})

	// LockWait tracks time spent waiting for an account lock.
	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portana_lock_wait_seconds",
		Help:    "Time spent acquiring per-account locks",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portana_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portana_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portana_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveRun records the outcome and latency of one run.
func ObserveRun(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RunsTotal.WithLabelValues(operation, status).Inc()
	RunDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps account IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
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
