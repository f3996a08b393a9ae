// Package metrics provides Prometheus instrumentation for the humancheck service.
package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "humancheck"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LoginDecisionsTotal counts login verdicts by decision and the rule that produced them.
	LoginDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_decisions_total",
			Help:      "Total login attempts decided, by verdict and deciding rule.",
		},
		[]string{"decision", "rule"},
	)

	// RiskScore observes the overall score and each sub-score.
	RiskScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of risk scores by component.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"component"},
	)

	// AuditWritesTotal counts audit store appends by result.
	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Total audit record appends by result.",
		},
		[]string{"result"},
	)

	// AuditMigrationsTotal counts schema rewrites of the audit store.
	AuditMigrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_migrations_total",
		Help:      "Total audit store schema rewrites.",
	})

	// AuditDegradedRowsTotal counts historical rows that could not be parsed strictly during a rewrite.
	AuditDegradedRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_degraded_rows_total",
		Help:      "Total audit rows carried through a rewrite after a lenient parse.",
	})

	// RateLimitedTotal counts login attempts refused by the per-client limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total requests refused by the rate limiter.",
	})

	// ActiveFeedClients tracks connected live-feed WebSocket clients.
	ActiveFeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_feed_clients",
			Help:      "Number of currently connected live-feed WebSocket clients.",
		},
	)

	// AuditStoreBytes tracks the size of the audit store file.
	AuditStoreBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "audit_store_bytes",
		Help: "Size of the audit store file in bytes.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoginDecisionsTotal,
		RiskScore,
		AuditWritesTotal,
		AuditMigrationsTotal,
		AuditDegradedRowsTotal,
		RateLimitedTotal,
		ActiveFeedClients,
		AuditStoreBytes,
		GoroutineCount,
	)
}

// ObserveDecision records one decided login attempt.
func ObserveDecision(decision, rule string, score, automation, behavior, challenge float64) {
	LoginDecisionsTotal.WithLabelValues(decision, rule).Inc()
	RiskScore.WithLabelValues("overall").Observe(score)
	RiskScore.WithLabelValues("automation").Observe(automation)
	RiskScore.WithLabelValues("behavior").Observe(behavior)
	RiskScore.WithLabelValues("challenge").Observe(challenge)
}

// ObserveAuditWrite records the result of one audit append.
func ObserveAuditWrite(err error) {
	if err != nil {
		AuditWritesTotal.WithLabelValues("error").Inc()
		return
	}
	AuditWritesTotal.WithLabelValues("ok").Inc()
}

// ObserveMigration records a schema rewrite and the rows it had to degrade.
func ObserveMigration(degraded int) {
	AuditMigrationsTotal.Inc()
	if degraded > 0 {
		AuditDegradedRowsTotal.Add(float64(degraded))
	}
}

// StartStoreStatsCollector periodically samples the audit store size and the
// runtime goroutine count into Prometheus gauges. Call in a goroutine; exits
// when ctx is done.
func StartStoreStatsCollector(ctx context.Context, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleStore(path)
		}
	}
}

func sampleStore(path string) {
	if info, err := os.Stat(path); err == nil {
		AuditStoreBytes.Set(float64(info.Size()))
	}
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
