package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/greenofig/greenofig/pkg/logger"
)

// Supported backends
const (
	BackendEnv = "env"
	BackendAWS = "aws"
)

// ErrSecretNotFound is returned when a backend has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// Manager resolves provider credentials by key
type Manager interface {
	GetSecret(ctx context.Context, key string) (string, error)
	RefreshCache(ctx context.Context) error
}

// Config holds secrets manager configuration
type Config struct {
	Backend       string
	AWSRegion     string
	Prefix        string        // prepended to every key, e.g. "greenofig/production/"
	CacheDuration time.Duration // how long a fetched value is reused
}

// NewManager creates a secrets manager for the configured backend
func NewManager(cfg Config, log logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Default()
	}

	switch cfg.Backend {
	case BackendAWS, "aws-secrets-manager":
		log.Info("using aws secrets manager", "region", cfg.AWSRegion, "prefix", cfg.Prefix)
		return NewAWSSecretsManager(cfg, log)
	case BackendEnv, "":
		return NewEnvironmentManager(), nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// EnvironmentManager reads secrets from the process environment
type EnvironmentManager struct{}

// NewEnvironmentManager creates an environment-backed manager
func NewEnvironmentManager() *EnvironmentManager {
	return &EnvironmentManager{}
}

// GetSecret returns the environment value for key
func (m *EnvironmentManager) GetSecret(ctx context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// RefreshCache is a no-op; the environment is read on every call
func (m *EnvironmentManager) RefreshCache(ctx context.Context) error {
	return nil
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// AWSSecretsManager loads secrets from AWS Secrets Manager with a TTL cache
type AWSSecretsManager struct {
	client secretsmanageriface.SecretsManagerAPI
	config Config
	log    logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

// NewAWSSecretsManager creates a manager backed by a new AWS session
func NewAWSSecretsManager(cfg Config, log logger.Logger) (*AWSSecretsManager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWSRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.New(sess), cfg, log), nil
}

func newAWSSecretsManager(client secretsmanageriface.SecretsManagerAPI, cfg Config, log logger.Logger) *AWSSecretsManager {
	if log == nil {
		log = logger.Default()
	}
	return &AWSSecretsManager{
		client: client,
		config: cfg,
		log:    log,
		now:    time.Now,
		cache:  make(map[string]cachedSecret),
	}
}

// GetSecret returns the string value stored under Prefix+key
func (m *AWSSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := m.getCached(key); ok {
		return value, nil
	}

	id := m.config.Prefix + key
	result, err := m.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, id)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("%w: %s has no string value", ErrSecretNotFound, id)
	}

	value := *result.SecretString
	m.setCached(key, value)
	m.log.Debug("loaded secret from aws secrets manager", "secret_id", id)

	return value, nil
}

// RefreshCache drops every cached value
func (m *AWSSecretsManager) RefreshCache(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = make(map[string]cachedSecret)
	return nil
}

func (m *AWSSecretsManager) getCached(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cached, ok := m.cache[key]
	if !ok || !m.now().Before(cached.expiresAt) {
		return "", false
	}
	return cached.value, true
}

func (m *AWSSecretsManager) setCached(key, value string) {
	if m.config.CacheDuration <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[key] = cachedSecret{
		value:     value,
		expiresAt: m.now().Add(m.config.CacheDuration),
	}
}
