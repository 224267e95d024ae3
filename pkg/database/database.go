package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/greenofig/greenofig/pkg/logger"
	_ "github.com/lib/pq"
)

// Client holds the database handle
type Client struct {
	DB *sql.DB
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum amount of time a connection may be reused
	ConnMaxIdleTime time.Duration // Maximum amount of time a connection may be idle
}

// SSLConfig holds SSL/TLS configuration for database connections
type SSLConfig struct {
	Mode         string // disable, require, verify-ca, verify-full
	CertPath     string // Path to client certificate
	KeyPath      string // Path to client key
	RootCertPath string // Path to root CA certificate
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// BuildConnectionString builds a PostgreSQL connection string with SSL parameters
func BuildConnectionString(baseURL string, sslCfg *SSLConfig) (string, error) {
	if sslCfg == nil {
		return baseURL, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	query := parsedURL.Query()

	// Mode overrides any sslmode already in the URL
	if sslCfg.Mode != "" {
		query.Set("sslmode", sslCfg.Mode)
	}
	if sslCfg.CertPath != "" {
		query.Set("sslcert", sslCfg.CertPath)
	}
	if sslCfg.KeyPath != "" {
		query.Set("sslkey", sslCfg.KeyPath)
	}
	if sslCfg.RootCertPath != "" {
		query.Set("sslrootcert", sslCfg.RootCertPath)
	}

	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// NewClient opens a Postgres pool and verifies it is reachable
func NewClient(ctx context.Context, databaseURL string, poolCfg PoolConfig, sslCfg *SSLConfig, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}

	connStr, err := BuildConnectionString(databaseURL, sslCfg)
	if err != nil {
		return nil, fmt.Errorf("failed building connection string: %w", err)
	}

	if sslCfg != nil && sslCfg.Mode != "" && sslCfg.Mode != "disable" {
		log.Info("database SSL enabled", "mode", sslCfg.Mode, "client_cert", sslCfg.CertPath != "", "root_cert", sslCfg.RootCertPath != "")
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to postgres: %w", err)
	}

	db.SetMaxOpenConns(poolCfg.MaxOpenConns)
	db.SetMaxIdleConns(poolCfg.MaxIdleConns)
	db.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed connecting to postgres: %w", err)
	}

	log.Info("database connection pool configured",
		"max_open", poolCfg.MaxOpenConns,
		"max_idle", poolCfg.MaxIdleConns,
		"max_lifetime", poolCfg.ConnMaxLifetime.String(),
		"max_idle_time", poolCfg.ConnMaxIdleTime.String(),
	)

	return &Client{DB: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.DB.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Stats returns database connection pool statistics
func (c *Client) Stats() sql.DBStats {
	return c.DB.Stats()
}
