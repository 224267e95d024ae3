// Package billing turns Stripe webhook deliveries into subscription,
// transaction and notification state, exactly once per event.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/metrics"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/greenofig/greenofig/pkg/store"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Outcome describes how an accepted delivery was handled
type Outcome string

const (
	// OutcomeProcessed means a handler ran and its writes committed
	OutcomeProcessed Outcome = "processed"
	// OutcomeIgnored means the event type has no handler
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicate means the event was already processed or is in flight
	OutcomeDuplicate Outcome = "duplicate"
)

// ProcessorConfig holds webhook processing settings
type ProcessorConfig struct {
	WebhookSecret   string
	ProviderTimeout time.Duration // bound on each Stripe API call
	ProcessTimeout  time.Duration // bound on a whole delivery
	LeaseTimeout    time.Duration // age after which a pending event may be reclaimed
	RetryDelay      time.Duration // delay before the first dunning retry
}

// DefaultProcessorConfig returns the production defaults
func DefaultProcessorConfig(secret string) ProcessorConfig {
	return ProcessorConfig{
		WebhookSecret:   secret,
		ProviderTimeout: 10 * time.Second,
		ProcessTimeout:  25 * time.Second,
		LeaseTimeout:    5 * time.Minute,
		RetryDelay:      72 * time.Hour,
	}
}

// markTimeout bounds ledger finalization after the delivery context ends
const markTimeout = 5 * time.Second

// Processor verifies, deduplicates and dispatches Stripe events
type Processor struct {
	store   *store.Store
	fetcher SubscriptionFetcher
	config  ProcessorConfig
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithClock replaces the processor's time source
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a webhook processor
func NewProcessor(st *store.Store, fetcher SubscriptionFetcher, cfg ProcessorConfig, log logger.Logger, m *metrics.Metrics, opts ...ProcessorOption) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	p := &Processor{
		store:   st,
		fetcher: fetcher,
		config:  cfg,
		logger:  log.With("component", "billing"),
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one webhook delivery. A signature failure returns an
// INVALID_SIGNATURE domain error and persists nothing. Any other error means
// the event was marked failed and the provider should retry.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	start := time.Now()

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		p.metrics.RecordSignatureFailure()
		p.logger.Warn("rejected webhook with invalid signature", "error", err)
		return "", domain.NewInvalidSignatureError(err)
	}
	if event.ID == "" || event.Type == "" {
		return "", domain.NewMalformedEventError("event id or type missing")
	}

	eventType := string(event.Type)
	log := p.logger.With("event_id", event.ID, "event_type", eventType)

	if p.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProcessTimeout)
		defer cancel()
	}

	lease, err := p.store.ClaimEvent(ctx, event.ID, eventType, payload, p.config.LeaseTimeout)
	if err != nil {
		p.metrics.RecordWebhookEvent(eventType, "failed", time.Since(start))
		return "", fmt.Errorf("failed to log webhook event: %w", err)
	}
	if lease == nil {
		log.Info("duplicate webhook delivery acknowledged")
		p.metrics.RecordWebhookEvent(eventType, string(OutcomeDuplicate), time.Since(start))
		return OutcomeDuplicate, nil
	}

	// The processed mark commits with the handler's writes
	outcome, err := p.dispatch(ctx, log, *lease, event)
	if err != nil {
		log.Error("webhook processing failed", "error", err, "attempt", lease.Attempt)

		// Record the failure even if the delivery context expired
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
		defer cancel()
		markErr := p.store.MarkEventFailed(markCtx, *lease, err.Error())
		switch {
		case domain.IsConflict(markErr):
			log.Warn("webhook event lease lost before failure was recorded", "error", markErr)
		case markErr != nil:
			log.Error("failed to mark webhook event failed", "error", markErr)
		}
		p.metrics.RecordWebhookEvent(eventType, "failed", time.Since(start))
		return "", err
	}

	log.Info("webhook processed", "outcome", string(outcome), "duration_ms", time.Since(start).Milliseconds())
	p.metrics.RecordWebhookEvent(eventType, string(outcome), time.Since(start))
	return outcome, nil
}

func (p *Processor) dispatch(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) (Outcome, error) {
	var err error

	switch event.Type {
	case "checkout.session.completed":
		err = p.handleCheckoutCompleted(ctx, log, lease, event)
	case "payment_intent.succeeded":
		err = p.handlePaymentSucceeded(ctx, log, lease, event)
	case "payment_intent.payment_failed":
		err = p.handlePaymentFailed(ctx, log, lease, event)
	case "customer.subscription.updated":
		err = p.handleSubscriptionUpdated(ctx, log, lease, event)
	case "customer.subscription.deleted":
		err = p.handleSubscriptionDeleted(ctx, log, lease, event)
	case "invoice.payment_succeeded":
		err = p.handleInvoicePaymentSucceeded(ctx, log, lease, event)
	case "invoice.payment_failed":
		// dunning starts from payment_intent.payment_failed
		log.Debug("invoice payment failure acknowledged")
		err = p.commit(ctx, lease, nil)
	case "charge.refunded":
		err = p.handleChargeRefunded(ctx, log, lease, event)
	default:
		log.Debug("unhandled webhook event type")
		if err := p.commit(ctx, lease, nil); err != nil {
			return "", err
		}
		return OutcomeIgnored, nil
	}

	if err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

// handleCheckoutCompleted records the payment and activates the user's plan
func (p *Processor) handleCheckoutCompleted(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := decode(event, &sess); err != nil {
		return err
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		return domain.NewMalformedEventError("checkout session has no client_reference_id")
	}

	var sub *stripe.Subscription
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		var err error
		sub, err = p.fetchSubscription(ctx, sess.Subscription.ID)
		if err != nil {
			return err
		}
	}

	planID := ""
	if sub != nil {
		planID = sub.Metadata["plan_id"]
	}
	if planID == "" {
		planID = sess.Metadata["plan_id"]
	}
	if planID == "" {
		return domain.NewMalformedEventError("checkout session has no plan_id metadata")
	}

	txn := &models.PaymentTransaction{
		UserID:            userID,
		PlanID:            planID,
		Amount:            centsToAmount(sess.AmountTotal),
		Currency:          strings.ToUpper(string(sess.Currency)),
		Status:            models.TransactionStatusSucceeded,
		CheckoutSessionID: sess.ID,
		BillingCycle:      billingCycle(sub),
	}
	if sess.PaymentIntent != nil {
		txn.PaymentIntentID = sess.PaymentIntent.ID
	}

	subscription := &models.Subscription{
		UserID:       userID,
		PlanID:       planID,
		Status:       models.SubscriptionStatusActive,
		BillingCycle: txn.BillingCycle,
	}
	if sess.Customer != nil {
		subscription.StripeCustomerID = sess.Customer.ID
	}
	if sub != nil {
		subscription.StripeSubscriptionID = sub.ID
		subscription.CurrentPeriodStart = unixTime(sub.CurrentPeriodStart)
		subscription.CurrentPeriodEnd = unixTime(sub.CurrentPeriodEnd)
	}

	err := p.commit(ctx, lease, func(r store.Repository) error {
		plan, err := r.FindPlan(ctx, planID)
		if err != nil {
			return fmt.Errorf("failed to resolve plan %s: %w", planID, err)
		}
		subscription.Tier = plan.Tier

		if err := r.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if err := r.UpsertSubscription(ctx, subscription); err != nil {
			return err
		}
		if err := p.createInvoice(ctx, r, txn); err != nil {
			return err
		}

		subject, message := paymentSuccessNotification(plan.Name, txn.Amount, txn.Currency)
		return r.InsertNotification(ctx, &models.Notification{
			UserID:        userID,
			Type:          models.NotificationPaymentSuccess,
			Subject:       subject,
			Message:       message,
			TransactionID: txn.ID,
		})
	})
	if err != nil {
		return err
	}

	p.metrics.RecordSubscriptionSold(subscription.Tier)
	log.Info("checkout completed", "user_id", userID, "tier", subscription.Tier, "transaction_id", txn.ID)
	return nil
}

// handlePaymentSucceeded confirms an existing transaction
func (p *Processor) handlePaymentSucceeded(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decode(event, &intent); err != nil {
		return err
	}

	orphaned := false
	err := p.commit(ctx, lease, func(r store.Repository) error {
		txn, err := r.FindTransactionByPaymentIntent(ctx, intent.ID)
		if domain.IsNotFound(err) {
			orphaned = true
			return nil
		}
		if err != nil {
			return err
		}

		if err := r.UpdateTransactionStatus(ctx, txn.ID, models.TransactionStatusSucceeded); err != nil {
			return err
		}

		subject, message := paymentSuccessNotification("", txn.Amount, txn.Currency)
		return r.InsertNotification(ctx, &models.Notification{
			UserID:        txn.UserID,
			Type:          models.NotificationPaymentSuccess,
			Subject:       subject,
			Message:       message,
			TransactionID: txn.ID,
		})
	})
	if err != nil {
		return err
	}

	if orphaned {
		p.orphaned(log, event, "payment_intent_id", intent.ID)
	}
	return nil
}

// handlePaymentFailed marks the transaction failed and schedules dunning
func (p *Processor) handlePaymentFailed(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := decode(event, &intent); err != nil {
		return err
	}

	var code, reason string
	if intent.LastPaymentError != nil {
		code = string(intent.LastPaymentError.Code)
		reason = intent.LastPaymentError.Msg
	}
	nextRetry := p.now().UTC().Add(p.config.RetryDelay)

	orphaned := false
	err := p.commit(ctx, lease, func(r store.Repository) error {
		txn, err := r.FindTransactionByPaymentIntent(ctx, intent.ID)
		if domain.IsNotFound(err) {
			orphaned = true
			return nil
		}
		if err != nil {
			return err
		}

		if err := r.MarkTransactionFailed(ctx, txn.ID, code, reason); err != nil {
			return err
		}
		if err := r.InsertPaymentFailure(ctx, &models.PaymentFailure{
			TransactionID: txn.ID,
			UserID:        txn.UserID,
			FailureCode:   code,
			FailureReason: reason,
			RetryCount:    0,
			Status:        models.FailureStatusPendingRetry,
			NextRetryAt:   nextRetry,
		}); err != nil {
			return err
		}

		subject, message := paymentFailedNotification(reason, nextRetry)
		return r.InsertNotification(ctx, &models.Notification{
			UserID:        txn.UserID,
			Type:          models.NotificationPaymentFailed,
			Subject:       subject,
			Message:       message,
			TransactionID: txn.ID,
		})
	})
	if err != nil {
		return err
	}

	if orphaned {
		p.orphaned(log, event, "payment_intent_id", intent.ID)
		return nil
	}
	log.Info("payment failed, retry scheduled", "payment_intent_id", intent.ID, "failure_code", code, "next_retry_at", nextRetry)
	return nil
}

// handleSubscriptionUpdated mirrors provider-owned subscription state
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return err
	}

	orphaned := false
	err := p.commit(ctx, lease, func(r store.Repository) error {
		existing, err := r.FindSubscriptionByStripeID(ctx, sub.ID)
		if domain.IsNotFound(err) {
			orphaned = true
			return nil
		}
		if err != nil {
			return err
		}

		return r.UpdateSubscriptionState(ctx, existing.ID, store.SubscriptionUpdate{
			Status:             string(sub.Status),
			CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
			CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		})
	})
	if err != nil {
		return err
	}

	if orphaned {
		p.orphaned(log, event, "stripe_subscription_id", sub.ID)
		return nil
	}
	log.Info("subscription updated", "stripe_subscription_id", sub.ID, "status", sub.Status)
	return nil
}

// handleSubscriptionDeleted cancels the subscription and notifies the user
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return err
	}

	canceledAt := p.now().UTC()
	if t := unixTime(sub.CanceledAt); t != nil {
		canceledAt = *t
	}

	orphaned := false
	err := p.commit(ctx, lease, func(r store.Repository) error {
		existing, err := r.FindSubscriptionByStripeID(ctx, sub.ID)
		if domain.IsNotFound(err) {
			orphaned = true
			return nil
		}
		if err != nil {
			return err
		}

		if err := r.CancelSubscription(ctx, existing.ID, canceledAt); err != nil {
			return err
		}

		subject, message := subscriptionCancelledNotification(unixTime(sub.CurrentPeriodEnd))
		return r.InsertNotification(ctx, &models.Notification{
			UserID:  existing.UserID,
			Type:    models.NotificationSubscriptionCancelled,
			Subject: subject,
			Message: message,
		})
	})
	if err != nil {
		return err
	}

	if orphaned {
		p.orphaned(log, event, "stripe_subscription_id", sub.ID)
		return nil
	}
	log.Info("subscription cancelled", "stripe_subscription_id", sub.ID)
	return nil
}

// handleInvoicePaymentSucceeded records the invoice for a renewal payment
func (p *Processor) handleInvoicePaymentSucceeded(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var inv stripe.Invoice
	if err := decode(event, &inv); err != nil {
		return err
	}

	if inv.PaymentIntent == nil || inv.PaymentIntent.ID == "" {
		log.Debug("invoice has no payment intent", "invoice_id", inv.ID)
		return p.commit(ctx, lease, nil)
	}
	paymentIntentID := inv.PaymentIntent.ID

	orphaned := false
	err := p.commit(ctx, lease, func(r store.Repository) error {
		txn, err := r.FindTransactionByPaymentIntent(ctx, paymentIntentID)
		if domain.IsNotFound(err) {
			orphaned = true
			return nil
		}
		if err != nil {
			return err
		}
		return p.createInvoice(ctx, r, txn)
	})
	if err != nil {
		return err
	}

	if orphaned {
		p.orphaned(log, event, "payment_intent_id", paymentIntentID)
	}
	return nil
}

// handleChargeRefunded completes the refund request and flags the transaction
func (p *Processor) handleChargeRefunded(ctx context.Context, log logger.Logger, lease store.Lease, event stripe.Event) error {
	var charge stripe.Charge
	if err := decode(event, &charge); err != nil {
		return err
	}

	paymentIntentID := ""
	if charge.PaymentIntent != nil {
		paymentIntentID = charge.PaymentIntent.ID
	}
	refundID := ""
	if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
		refundID = charge.Refunds.Data[0].ID
	}
	transactionID := charge.Metadata["transaction_id"]
	amount := centsToAmount(charge.AmountRefunded)
	processedAt := p.now().UTC()

	var (
		orphaned      bool
		refundUpdated bool
	)
	err := p.commit(ctx, lease, func(r store.Repository) error {
		if transactionID != "" {
			updated, err := r.CompleteRefund(ctx, transactionID, refundID, processedAt)
			if err != nil {
				return err
			}
			refundUpdated = updated
		}

		txn, err := r.FindTransactionByPaymentIntent(ctx, paymentIntentID)
		if domain.IsNotFound(err) {
			orphaned = true
			return nil
		}
		if err != nil {
			return err
		}
		return r.MarkTransactionRefunded(ctx, txn.ID, amount)
	})
	if err != nil {
		return err
	}

	switch {
	case transactionID == "":
		log.Warn("charge has no transaction_id metadata, refund record not updated", "charge_id", charge.ID)
	case !refundUpdated:
		log.Warn("no pending refund for transaction", "transaction_id", transactionID, "charge_id", charge.ID)
	}

	if orphaned {
		p.orphaned(log, event, "payment_intent_id", paymentIntentID)
		return nil
	}
	p.metrics.RecordRefund()
	log.Info("charge refunded", "payment_intent_id", paymentIntentID, "amount", amount)
	return nil
}

// commit runs fn and the ledger's processed mark in one transaction, so an
// event's writes are visible exactly when the event reads as processed
func (p *Processor) commit(ctx context.Context, lease store.Lease, fn func(store.Repository) error) error {
	return p.store.WithTx(ctx, func(r store.Repository) error {
		if fn != nil {
			if err := fn(r); err != nil {
				return err
			}
		}
		return r.MarkEventProcessed(ctx, lease)
	})
}

// createInvoice records the pending invoice for txn; rendering happens downstream
func (p *Processor) createInvoice(ctx context.Context, r store.Repository, txn *models.PaymentTransaction) error {
	_, err := r.CreateInvoice(ctx, &models.Invoice{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		InvoiceNumber: invoiceNumber(p.now(), txn.ID),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Status:        models.InvoiceStatusPending,
	})
	return err
}

func (p *Processor) fetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if p.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProviderTimeout)
		defer cancel()
	}

	sub, err := p.fetcher.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", id, err)
	}
	return sub, nil
}

// orphaned logs an event whose target row does not exist yet.
// Stripe does not order deliveries, so this is acknowledged rather than retried.
func (p *Processor) orphaned(log logger.Logger, event stripe.Event, key, value string) {
	log.Warn("no matching row for event, acknowledged as no-op", key, value)
	p.metrics.RecordOrphanedEvent(string(event.Type))
}

func decode(event stripe.Event, v interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.NewMalformedEventError("event has no data object")
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return domain.NewMalformedEventError(fmt.Sprintf("cannot decode %s payload: %v", event.Type, err))
	}
	return nil
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func billingCycle(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return models.BillingCycleMonthly
	}
	price := sub.Items.Data[0].Price
	if price != nil && price.Recurring != nil && price.Recurring.Interval == stripe.PriceRecurringIntervalYear {
		return models.BillingCycleYearly
	}
	return models.BillingCycleMonthly
}
