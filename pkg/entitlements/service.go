package entitlements

import (
	"context"
	"time"

	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/metrics"
	"github.com/greenofig/greenofig/pkg/models"
)

// SubscriptionReader loads a user's subscription.
type SubscriptionReader interface {
	GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
}

// OverrideReader loads the raw override document for a user.
type OverrideReader interface {
	GetFeatureOverride(ctx context.Context, userID string) ([]byte, error)
}

// OverrideCache is the subset of the redis client used for overrides.
type OverrideCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const overrideCachePrefix = "entitlements:override:"

// emptyOverride is cached for users without an override row.
const emptyOverride = "{}"

// Service builds resolvers from persisted subscription and override state.
type Service struct {
	subscriptions SubscriptionReader
	overrides     OverrideReader
	cache         OverrideCache
	cacheTTL      time.Duration
	logger        logger.Logger
	metrics       *metrics.Metrics
}

// NewService creates an entitlement service. cache may be nil.
func NewService(subs SubscriptionReader, overrides OverrideReader, cache OverrideCache, cacheTTL time.Duration, log logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		subscriptions: subs,
		overrides:     overrides,
		cache:         cache,
		cacheTTL:      cacheTTL,
		logger:        log.With("component", "entitlements"),
		metrics:       m,
	}
}

// ResolverFor returns the resolver for userID. It never fails: an unreadable
// subscription resolves as no subscription and an unreadable override as none.
func (s *Service) ResolverFor(ctx context.Context, userID string) *Resolver {
	sub, err := s.subscriptions.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		if !domain.IsNotFound(err) {
			s.logger.Warn("subscription lookup failed, using free plan", "user_id", userID, "error", err)
			s.metrics.RecordEntitlementFallback("subscription")
		}
		sub = nil
	}

	return NewResolver(sub, s.loadOverride(ctx, userID))
}

// InvalidateOverride drops the cached override for userID.
func (s *Service) InvalidateOverride(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, overrideCachePrefix+userID)
}

func (s *Service) loadOverride(ctx context.Context, userID string) Override {
	key := overrideCachePrefix + userID

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			override, err := ParseOverride([]byte(raw))
			if err == nil {
				s.metrics.RecordCacheHit("override")
				return override
			}
			s.logger.Warn("discarding undecodable cached override", "user_id", userID, "error", err)
		}
		s.metrics.RecordCacheMiss("override")
	}

	raw, err := s.overrides.GetFeatureOverride(ctx, userID)
	switch {
	case domain.IsNotFound(err):
		raw = []byte(emptyOverride)
	case err != nil:
		s.logger.Warn("override lookup failed, using plan defaults", "user_id", userID, "error", err)
		s.metrics.RecordEntitlementFallback("override")
		return nil
	}

	override, err := ParseOverride(raw)
	if err != nil {
		s.logger.Warn("override document is invalid, using plan defaults", "user_id", userID, "error", err)
		s.metrics.RecordEntitlementFallback("override")
		return nil
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, string(raw), s.cacheTTL); err != nil {
			s.logger.Debug("failed to cache override", "user_id", userID, "error", err)
		}
	}
	return override
}
