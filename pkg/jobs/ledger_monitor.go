package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/metrics"
	"github.com/greenofig/greenofig/pkg/models"
)

// LeaseExpiredReason is stored on events whose processing lease ran out
const LeaseExpiredReason = "processing lease expired"

// LedgerStore is the slice of the store the monitor maintains
type LedgerStore interface {
	ExpireStalePending(ctx context.Context, leaseTimeout time.Duration, reason string) (int64, error)
	PruneProcessed(ctx context.Context, retention time.Duration) (int64, error)
	CountWebhookEventsByStatus(ctx context.Context) (map[string]int64, error)
}

// LedgerMonitor keeps the webhook idempotency ledger tidy and observable
type LedgerMonitor struct {
	store        LedgerStore
	leaseTimeout time.Duration
	retention    time.Duration
	logger       logger.Logger
	metrics      *metrics.Metrics
}

// NewLedgerMonitor creates a new ledger monitor
func NewLedgerMonitor(store LedgerStore, leaseTimeout, retention time.Duration, log logger.Logger, m *metrics.Metrics) *LedgerMonitor {
	if log == nil {
		log = logger.Nop()
	}

	return &LedgerMonitor{
		store:        store,
		leaseTimeout: leaseTimeout,
		retention:    retention,
		logger:       log.With("component", "ledger_monitor"),
		metrics:      m,
	}
}

// ExpireStaleLeases marks pending events whose delivery crashed as failed,
// so the next provider retry can reclaim them.
func (m *LedgerMonitor) ExpireStaleLeases(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireStalePending(ctx, m.leaseTimeout, LeaseExpiredReason)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		m.logger.Warn("expired stale webhook leases", "count", n, "lease_timeout", m.leaseTimeout.String())
	}
	m.metrics.RecordLeasesExpired(n)
	return n, nil
}

// PruneProcessed deletes processed events older than the retention window
func (m *LedgerMonitor) PruneProcessed(ctx context.Context) (int64, error) {
	n, err := m.store.PruneProcessed(ctx, m.retention)
	if err != nil {
		return 0, err
	}

	m.logger.Info("pruned processed webhook events", "count", n, "retention", m.retention.String())
	m.metrics.RecordEventsPruned(n)
	return n, nil
}

// RecordStats publishes the per-status ledger size
func (m *LedgerMonitor) RecordStats(ctx context.Context) (map[string]int64, error) {
	counts, err := m.store.CountWebhookEventsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger stats: %w", err)
	}

	for status, n := range counts {
		m.metrics.RecordLedgerSize(status, n)
	}
	if failed := counts[models.WebhookStatusFailed]; failed > 0 {
		m.logger.Warn("webhook ledger has failed events", "failed", failed, "pending", counts[models.WebhookStatusPending])
	}
	return counts, nil
}
