package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	medBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medledger_blocks_appended_total",
		Help: "Total ledger blocks appended.",
	})

	medChainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medledger_chain_length",
		Help: "Current number of blocks in the ledger chain.",
	})

	medSyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_sync_runs_total",
		Help: "Total reconciliation passes by result.",
	}, []string{"result"})

	medIntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_integrity_checks_total",
		Help: "Total chain integrity validations by result.",
	}, []string{"result"})

	medRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	medRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		medRequestsTotal.WithLabelValues(method, path, status).Inc()
		medRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordBlockAppend records one appended ledger block and the new chain
// length. Wired into Chain.SetAppendHook at startup.
func RecordBlockAppend(chainLength int) {
	medBlocksTotal.Inc()
	medChainLength.Set(float64(chainLength))
}

// RecordSyncRun records a reconciliation pass.
func RecordSyncRun(clean bool) {
	if clean {
		medSyncRunsTotal.WithLabelValues("clean").Inc()
	} else {
		medSyncRunsTotal.WithLabelValues("partial").Inc()
	}
}

// RecordIntegrityCheck records a chain validation result.
func RecordIntegrityCheck(valid bool) {
	if valid {
		medIntegrityChecksTotal.WithLabelValues("valid").Inc()
	} else {
		medIntegrityChecksTotal.WithLabelValues("violation").Inc()
	}
}
