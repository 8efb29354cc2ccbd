// Package metrics provides Prometheus instrumentation for the settlement engine.
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
	// SettlementsTotal counts finalized settlements, partitioned by split mode.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanvault_settlements_total",
		Help: "Total number of finalized settlements",
	}, []string{"mode"})

	// SettlementLatency tracks end-to-end finalize latency.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clanvault_settlement_latency_seconds",
		Help:    "Settlement finalize latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// PayoutsTotal counts payout rows written, partitioned by remainder policy.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanvault_payouts_total",
		Help: "Total number of payout rows written",
	}, []string{"remainder_policy"})

	// SettlementRejections counts finalize attempts rejected by validation
	// or state checks.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanvault_settlement_rejections_total",
		Help: "Finalize attempts rejected before commit",
	}, []string{"reason"})

	// FundBalance tracks the current clan fund balance.
	FundBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clanvault_fund_balance",
		Help: "Current clan fund balance in integer currency units",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanvault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clanvault_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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

		// Use the route pattern for path label to avoid high cardinality.
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
