package secrets

import (
	"context"
	"errors"
	"fmt"
)

// Credential keys resolved at startup
const (
	KeyJWTSecret           = "JWT_SECRET"
	KeyDatabaseURL         = "DATABASE_URL"
	KeyRedisURL            = "REDIS_URL"
	KeyStripeSecretKey     = "STRIPE_SECRET_KEY"
	KeyStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
)

// Overlay replaces each target with the manager's value for its key.
// Keys the backend does not know keep their current value; any other
// backend failure aborts startup.
func Overlay(ctx context.Context, m Manager, targets map[string]*string) (int, error) {
	loaded := 0
	for key, dest := range targets {
		value, err := m.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("failed to load %s: %w", key, err)
		}
		*dest = value
		loaded++
	}
	return loaded, nil
}

