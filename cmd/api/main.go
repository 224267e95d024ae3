package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/greenofig/greenofig/config"
	apierrors "github.com/greenofig/greenofig/pkg/api/errors"
	"github.com/greenofig/greenofig/pkg/api/handlers"
	"github.com/greenofig/greenofig/pkg/billing"
	"github.com/greenofig/greenofig/pkg/cache"
	"github.com/greenofig/greenofig/pkg/database"
	"github.com/greenofig/greenofig/pkg/entitlements"
	"github.com/greenofig/greenofig/pkg/jobs"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/metrics"
	"github.com/greenofig/greenofig/pkg/secrets"
	"github.com/greenofig/greenofig/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "greenofig: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel).With("service", "greenofig-api", "environment", cfg.APIEnvironment)
	apierrors.SetLogger(log)

	if err := loadSecrets(cfg, log); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Sentry error tracking
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.1,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			sentryEnabled = true
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
		}
	} else {
		log.Info("sentry disabled (no DSN configured)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database
	sslCfg := &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	}
	db, err := database.NewClient(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), sslCfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db.DB, database.DialectPostgres, log); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Redis is optional: overrides are read from the store when it is down
	var (
		overrideCache entitlements.OverrideCache
		cachePinger   handlers.Pinger
	)
	redisClient, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, override cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		overrideCache = redisClient
		cachePinger = redisClient
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	st := store.New(db.DB)
	entitlementService := entitlements.NewService(st, st, overrideCache, cfg.OverrideCacheTTL, log, m)

	processorCfg := billing.ProcessorConfig{
		WebhookSecret:   cfg.StripeWebhookSecret,
		ProviderTimeout: cfg.StripeAPITimeout,
		ProcessTimeout:  cfg.WebhookProcessTimeout,
		LeaseTimeout:    cfg.WebhookLeaseTimeout,
		RetryDelay:      cfg.DunningRetryDelay,
	}
	processor := billing.NewProcessor(st, billing.NewStripeFetcher(cfg.StripeSecretKey, cfg.StripeAPITimeout), processorCfg, log, m)

	// Ledger maintenance
	monitor := jobs.NewLedgerMonitor(st, cfg.WebhookLeaseTimeout, time.Duration(cfg.WebhookRetentionDays)*24*time.Hour, log, m)
	cronManager := jobs.NewCronManager(monitor, log)
	if err := cronManager.SetupJobs(); err != nil {
		return fmt.Errorf("failed to setup cron jobs: %w", err)
	}
	cronManager.Start()

	e, rateLimiters := newServer(&serverDeps{
		config:    cfg,
		logger:    log,
		metrics:   m,
		gatherer:  prometheus.DefaultGatherer,
		processor: processor,
		resolvers: entitlementService,
		ledger:    st,
		db:        db,
		cache:     cachePinger,
		sentry:    sentryEnabled,
	})

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("greenofig api starting", "address", address)
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// In-flight webhook deliveries finish before the ledger jobs stop
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	cronManager.Stop(shutdownCtx)
	for _, rl := range rateLimiters {
		rl.Stop()
	}

	log.Info("server gracefully stopped")
	return nil
}

// loadSecrets replaces provider credentials with values from the
// configured secrets backend
func loadSecrets(cfg *config.Config, log logger.Logger) error {
	manager, err := secrets.NewManager(secrets.Config{
		Backend:       cfg.SecretsBackend,
		AWSRegion:     cfg.AWSRegion,
		Prefix:        cfg.SecretsPrefix,
		CacheDuration: cfg.SecretsCacheTTL,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	loaded, err := secrets.Overlay(ctx, manager, map[string]*string{
		secrets.KeyJWTSecret:           &cfg.JWTSecret,
		secrets.KeyDatabaseURL:         &cfg.DatabaseURL,
		secrets.KeyRedisURL:            &cfg.RedisURL,
		secrets.KeyStripeSecretKey:     &cfg.StripeSecretKey,
		secrets.KeyStripeWebhookSecret: &cfg.StripeWebhookSecret,
	})
	if err != nil {
		return err
	}
	log.Info("secrets loaded", "backend", cfg.SecretsBackend, "count", loaded)
	return nil
}
