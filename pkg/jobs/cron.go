package jobs

import (
	"context"
	"time"

	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Job schedules, evaluated in UTC
const (
	ExpireLeasesSchedule = "*/5 * * * *"
	PruneSchedule        = "30 3 * * *"
	StatsSchedule        = "*/15 * * * *"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron    *cron.Cron
	monitor *LedgerMonitor
	logger  logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(monitor *LedgerMonitor, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "cron")
	cl := cronLogger{log: log}

	return &CronManager{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		monitor: monitor,
		logger:  log,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	jobs := []struct {
		schedule string
		run      func()
	}{
		{ExpireLeasesSchedule, cm.expireLeases},
		{PruneSchedule, cm.pruneProcessed},
		{StatsSchedule, cm.recordStats},
	}

	for _, j := range jobs {
		if _, err := cm.cron.AddFunc(j.schedule, j.run); err != nil {
			return err
		}
	}

	cm.logger.Info("cron jobs configured",
		"expire_leases", ExpireLeasesSchedule,
		"prune", PruneSchedule,
		"stats", StatsSchedule,
	)
	return nil
}

// Start starts the scheduler in its own goroutine
func (cm *CronManager) Start() {
	cm.cron.Start()
	cm.logger.Info("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs until ctx ends
func (cm *CronManager) Stop(ctx context.Context) {
	select {
	case <-cm.cron.Stop().Done():
		cm.logger.Info("cron scheduler stopped")
	case <-ctx.Done():
		cm.logger.Warn("cron scheduler stop timed out", "error", ctx.Err())
	}
}

// Entries returns the number of scheduled jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}

func (cm *CronManager) expireLeases() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := cm.monitor.ExpireStaleLeases(ctx); err != nil {
		cm.logger.Error("lease expiry job failed", "error", err)
	}
}

func (cm *CronManager) pruneProcessed() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := cm.monitor.PruneProcessed(ctx); err != nil {
		cm.logger.Error("ledger prune job failed", "error", err)
	}
}

func (cm *CronManager) recordStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := cm.monitor.RecordStats(ctx); err != nil {
		cm.logger.Error("ledger stats job failed", "error", err)
	}
}

// cronLogger adapts logger.Logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
