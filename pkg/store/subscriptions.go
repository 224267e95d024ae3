package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/models"
)

// SubscriptionUpdate carries the provider-owned subscription fields
type SubscriptionUpdate struct {
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

const subscriptionColumns = `id, user_id, plan_id, tier, status, billing_cycle,
	stripe_subscription_id, stripe_customer_id, current_period_start, current_period_end,
	cancel_at_period_end, canceled_at, created_at, updated_at`

func (r *repo) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO subscription_plans (id, name, tier, price_monthly, price_yearly, active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		plan.ID, plan.Name, plan.Tier, plan.PriceMonthly, plan.PriceYearly, plan.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (r *repo) FindPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	var p models.SubscriptionPlan
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, tier, price_monthly, price_yearly, active FROM subscription_plans WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Tier, &p.PriceMonthly, &p.PriceYearly, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("subscription plan")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}
	return &p, nil
}

func (r *repo) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.scanSubscription(r.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1`, userID,
	))
}

func (r *repo) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, domain.NewNotFoundError("subscription")
	}
	return r.scanSubscription(r.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID,
	))
}

func (r *repo) scanSubscription(row *sql.Row) (*models.Subscription, error) {
	var (
		s                      models.Subscription
		periodStart, periodEnd sql.NullTime
		canceledAt             sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.Tier, &s.Status, &s.BillingCycle,
		&s.StripeSubscriptionID, &s.StripeCustomerID, &periodStart, &periodEnd,
		&s.CancelAtPeriodEnd, &canceledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("subscription")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	s.CurrentPeriodStart = timePtr(periodStart)
	s.CurrentPeriodEnd = timePtr(periodEnd)
	s.CanceledAt = timePtr(canceledAt)
	return &s, nil
}

// UpsertSubscription writes the user's single subscription row. An existing
// row keeps its id and creation time; cancellation state is cleared.
func (r *repo) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	now := r.now()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO user_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			tier = excluded.tier,
			status = excluded.status,
			billing_cycle = excluded.billing_cycle,
			stripe_subscription_id = excluded.stripe_subscription_id,
			stripe_customer_id = excluded.stripe_customer_id,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			canceled_at = NULL,
			updated_at = excluded.updated_at`,
		sub.ID, sub.UserID, sub.PlanID, sub.Tier, sub.Status, sub.BillingCycle,
		sub.StripeSubscriptionID, sub.StripeCustomerID,
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *repo) UpdateSubscriptionState(ctx context.Context, id string, update SubscriptionUpdate) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_subscriptions
		SET status = $1, current_period_start = $2, current_period_end = $3, cancel_at_period_end = $4, updated_at = $5
		WHERE id = $6`,
		update.Status, nullTime(update.CurrentPeriodStart), nullTime(update.CurrentPeriodEnd),
		update.CancelAtPeriodEnd, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return expectRow(res, "subscription")
}

func (r *repo) CancelSubscription(ctx context.Context, id string, canceledAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_subscriptions SET status = $1, canceled_at = $2, updated_at = $3 WHERE id = $4`,
		models.SubscriptionStatusCanceled, canceledAt.UTC(), r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return expectRow(res, "subscription")
}

func (r *repo) GetFeatureOverride(ctx context.Context, userID string) ([]byte, error) {
	var features string
	err := r.q.QueryRowContext(ctx,
		`SELECT features FROM user_feature_overrides WHERE user_id = $1`, userID,
	).Scan(&features)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("feature override")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feature override: %w", err)
	}
	return []byte(features), nil
}

func (r *repo) SetFeatureOverride(ctx context.Context, userID string, features []byte) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO user_feature_overrides (user_id, features, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET features = excluded.features, updated_at = excluded.updated_at`,
		userID, string(features), r.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save feature override: %w", err)
	}
	return nil
}

func expectRow(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError(resource)
	}
	return nil
}
