// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts total trades executed, partitioned by outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmkt_trades_total",
		Help: "Total number of trades executed",
	}, []string{"outcome"})

	// TradeLatency is a histogram of trade execution latency, dominated by
	// the damped-Newton solver's iteration count.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distmkt_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// SolverIterations records how many Newton iterations FindMaxLoss took
	// to converge, per call.
	SolverIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "distmkt_solver_iterations",
		Help:    "Damped-Newton solver iterations per call",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 16, 20},
	})

	// SolverNonConvergence counts solver calls that exhausted maxIter
	// without meeting the convergence tolerance.
	SolverNonConvergence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distmkt_solver_nonconvergence_total",
		Help: "Solver calls that exhausted max iterations without converging",
	})

	// ActiveMarkets tracks the number of currently open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distmkt_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distmkt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmkt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distmkt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// CorrelationLimitRejections counts trades rejected by the mu-bucket
	// correlation limiter.
	CorrelationLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distmkt_correlation_limit_rejections_total",
		Help: "Trades rejected by the correlation limiter",
	})

	// LiquidityAdded tracks cumulative liquidity (b) added per market.
	LiquidityAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmkt_liquidity_added_total",
		Help: "Cumulative liquidity parameter b added, in real (unscaled) units",
	}, []string{"market_id"})

	// CollateralLocked tracks current collateral locked per market.
	CollateralLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "distmkt_collateral_locked",
		Help: "Collateral currently locked per market, in real (unscaled) units",
	}, []string{"market_id"})

	// Settlements counts market settlements.
	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distmkt_settlements_total",
		Help: "Total number of markets settled",
	})

	// Claims counts position payout claims, partitioned by position kind.
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmkt_claims_total",
		Help: "Total number of position claims",
	}, []string{"kind"})
)

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

		// The path label is the raw request path, not the router's route
		// pattern, so each distinct ID in a URL gets its own label value.
		path := r.URL.Path
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
