package billing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// SubscriptionFetcher loads subscription details from the payment provider
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// StripeFetcher implements SubscriptionFetcher with a per-instance Stripe client
type StripeFetcher struct {
	api *client.API
}

// NewStripeFetcher creates a fetcher whose HTTP calls never exceed timeout
func NewStripeFetcher(secretKey string, timeout time.Duration) *StripeFetcher {
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &StripeFetcher{api: api}
}

// GetSubscription retrieves a subscription; ctx bounds the call
func (f *StripeFetcher) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := f.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", id, err)
	}
	return sub, nil
}
