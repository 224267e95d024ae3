package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEvents          *prometheus.CounterVec
	WebhookDuration        *prometheus.HistogramVec
	WebhookOrphanedEvents  *prometheus.CounterVec
	WebhookLeasesExpired   prometheus.Counter
	WebhookEventsPruned    prometheus.Counter
	WebhookSignatureFailed prometheus.Counter
	WebhookLedgerSize      *prometheus.GaugeVec

	// Business metrics
	SubscriptionsSold *prometheus.CounterVec
	RefundsProcessed  prometheus.Counter

	// Entitlement metrics
	EntitlementFallbacks *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		// Webhook metrics
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Payment provider webhook events by type and outcome",
			},
			[]string{"type", "outcome"}, // processed, ignored, duplicate, failed
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_processing_duration_seconds",
				Help:    "Time spent dispatching a webhook event",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
			},
			[]string{"type"},
		),
		WebhookOrphanedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_orphaned_events_total",
				Help: "Events whose target row did not exist and were acknowledged as no-ops",
			},
			[]string{"type"},
		),
		WebhookLeasesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "webhook_leases_expired_total",
			Help: "Pending webhook events marked failed after their processing lease expired",
		}),
		WebhookEventsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "webhook_events_pruned_total",
			Help: "Processed webhook ledger rows deleted by retention",
		}),
		WebhookSignatureFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for an invalid signature",
		}),
		WebhookLedgerSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webhook_ledger_events",
				Help: "Webhook ledger rows by status at the last sweep",
			},
			[]string{"status"},
		),

		// Business metrics
		SubscriptionsSold: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscriptions_sold_total",
				Help: "Total number of subscriptions sold",
			},
			[]string{"tier"}, // Base, Premium, Ultimate, Elite
		),
		RefundsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "refunds_processed_total",
			Help: "Refunds confirmed by the payment provider",
		}),

		// Entitlement metrics
		EntitlementFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_override_fallbacks_total",
				Help: "Entitlement resolutions that fell back to defaults after a read failure",
			},
			[]string{"source"}, // subscription, override
		),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			start := time.Now()
			req := c.Request()
			path := c.Path() // Use route pattern, not actual path

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}

// RecordWebhookEvent counts a webhook delivery by type and outcome
func (m *Metrics) RecordWebhookEvent(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordOrphanedEvent counts an event that referenced a missing row
func (m *Metrics) RecordOrphanedEvent(eventType string) {
	if m == nil {
		return
	}
	m.WebhookOrphanedEvents.WithLabelValues(eventType).Inc()
}

// RecordSignatureFailure counts a rejected delivery
func (m *Metrics) RecordSignatureFailure() {
	if m == nil {
		return
	}
	m.WebhookSignatureFailed.Inc()
}

// RecordLeasesExpired adds n expired processing leases
func (m *Metrics) RecordLeasesExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.WebhookLeasesExpired.Add(float64(n))
}

// RecordEventsPruned adds n pruned ledger rows
func (m *Metrics) RecordEventsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.WebhookEventsPruned.Add(float64(n))
}

// RecordLedgerSize sets the ledger row count for status
func (m *Metrics) RecordLedgerSize(status string, n int64) {
	if m == nil {
		return
	}
	m.WebhookLedgerSize.WithLabelValues(status).Set(float64(n))
}

// RecordSubscriptionSold increments subscriptions sold counter
func (m *Metrics) RecordSubscriptionSold(tier string) {
	if m == nil {
		return
	}
	m.SubscriptionsSold.WithLabelValues(tier).Inc()
}

// RecordRefund increments refunds processed counter
func (m *Metrics) RecordRefund() {
	if m == nil {
		return
	}
	m.RefundsProcessed.Inc()
}

// RecordEntitlementFallback counts a degraded entitlement resolution
func (m *Metrics) RecordEntitlementFallback(source string) {
	if m == nil {
		return
	}
	m.EntitlementFallbacks.WithLabelValues(source).Inc()
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
