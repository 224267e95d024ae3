package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/metrics"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/greenofig/greenofig/pkg/store"
	"github.com/greenofig/greenofig/pkg/testdata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test_secret"

var fixedNow = time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)

type fakeFetcher struct {
	mu     sync.Mutex
	sub    *stripe.Subscription
	err    error
	block  bool
	calls  int
	onCall func()
}

func (f *fakeFetcher) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	f.calls++
	sub, err, block, onCall := f.sub, f.err, f.block, f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type harness struct {
	processor *Processor
	store     *store.Store
	fetcher   *fakeFetcher
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, testdata.OpenDB(t))
}

func newHarnessOn(t *testing.T, db *sql.DB) *harness {
	t.Helper()

	st := store.New(db)
	fetcher := &fakeFetcher{}
	m := metrics.New(prometheus.NewRegistry())

	cfg := DefaultProcessorConfig(testSecret)
	cfg.ProviderTimeout = 50 * time.Millisecond

	return &harness{
		processor: NewProcessor(st, fetcher, cfg, logger.Nop(), m, WithClock(func() time.Time { return fixedNow })),
		store:     st,
		fetcher:   fetcher,
		metrics:   m,
	}
}

func (h *harness) count(t *testing.T, table, where string, args ...interface{}) int {
	return testdata.Count(t, h.store.DB(), table, where, args...)
}

func signedEvent(t *testing.T, id, eventType string, object interface{}) ([]byte, string) {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testSecret,
	})
	return signed.Payload, signed.Header
}

func (h *harness) process(t *testing.T, id, eventType string, object interface{}) (Outcome, error) {
	t.Helper()
	payload, header := signedEvent(t, id, eventType, object)
	return h.processor.Process(context.Background(), payload, header)
}

func (h *harness) seedPlan(t *testing.T, tier string) *models.SubscriptionPlan {
	t.Helper()
	plan := testdata.Plan(tier)
	require.NoError(t, h.store.CreatePlan(context.Background(), plan))
	return plan
}

func (h *harness) seedTransaction(t *testing.T, paymentIntentID string) *models.PaymentTransaction {
	t.Helper()
	txn := testdata.Transaction(gofakeit.UUID(), paymentIntentID)
	require.NoError(t, h.store.InsertTransaction(context.Background(), txn))
	return txn
}

func (h *harness) ledgerStatus(t *testing.T, eventID string) string {
	t.Helper()
	evt, err := h.store.GetWebhookEvent(context.Background(), eventID)
	require.NoError(t, err)
	return evt.Status
}

func checkoutSession(userID, planID string) map[string]interface{} {
	return map[string]interface{}{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"client_reference_id": userID,
		"amount_total":        1999,
		"currency":            "usd",
		"payment_intent":      "pi_checkout",
		"subscription":        "sub_checkout",
		"customer":            "cus_checkout",
		"metadata":            map[string]string{"plan_id": planID},
	}
}

func providerSubscription(planID string, interval stripe.PriceRecurringInterval) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 "sub_checkout",
		Metadata:           map[string]string{"plan_id": planID},
		CurrentPeriodStart: fixedNow.Unix(),
		CurrentPeriodEnd:   fixedNow.AddDate(1, 0, 0).Unix(),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{Recurring: &stripe.PriceRecurring{Interval: interval}}},
			},
		},
	}
}

func TestProcess_InvalidSignatureStoresNothing(t *testing.T) {
	h := newHarness(t)
	payload, _ := signedEvent(t, "evt_forged", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})

	for _, header := range []string{"", "t=1,v1=deadbeef", "garbage"} {
		outcome, err := h.processor.Process(context.Background(), payload, header)
		require.Error(t, err)
		assert.True(t, domain.IsInvalidSignature(err))
		assert.Empty(t, outcome)
	}

	assert.Equal(t, 0, h.count(t, "webhook_events", ""))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.WebhookSignatureFailed))
}

func TestProcess_TamperedPayloadRejected(t *testing.T) {
	h := newHarness(t)
	payload, header := signedEvent(t, "evt_1", "charge.refunded", map[string]interface{}{"id": "ch_1"})
	payload = append(payload[:len(payload)-1], []byte(`,"x":1}`)...)

	_, err := h.processor.Process(context.Background(), payload, header)
	assert.True(t, domain.IsInvalidSignature(err))
	assert.Equal(t, 0, h.count(t, "webhook_events", ""))
}

func TestProcess_CheckoutCompleted(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Premium")
	userID := gofakeit.UUID()
	h.fetcher.sub = providerSubscription(plan.ID, stripe.PriceRecurringIntervalYear)

	outcome, err := h.process(t, "evt_checkout", "checkout.session.completed", checkoutSession(userID, plan.ID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	ctx := context.Background()
	txn, err := h.store.FindTransactionByPaymentIntent(ctx, "pi_checkout")
	require.NoError(t, err)
	assert.Equal(t, userID, txn.UserID)
	assert.InDelta(t, 19.99, txn.Amount, 0.001)
	assert.Equal(t, "USD", txn.Currency)
	assert.Equal(t, models.TransactionStatusSucceeded, txn.Status)
	assert.Equal(t, models.BillingCycleYearly, txn.BillingCycle)
	assert.Equal(t, "cs_test_1", txn.CheckoutSessionID)

	sub, err := h.store.GetSubscriptionByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "Premium", sub.Tier)
	assert.Equal(t, plan.ID, sub.PlanID)
	assert.Equal(t, "sub_checkout", sub.StripeSubscriptionID)
	assert.Equal(t, "cus_checkout", sub.StripeCustomerID)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.True(t, sub.CurrentPeriodStart.Equal(fixedNow))
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(fixedNow.AddDate(1, 0, 0)))

	assert.Equal(t, 1, h.count(t, "payment_invoices", "transaction_id = $1 AND status = $2", txn.ID, models.InvoiceStatusPending))
	assert.Equal(t, 1, h.count(t, "payment_notifications", "user_id = $1 AND type = $2", userID, models.NotificationPaymentSuccess))
	assert.Equal(t, models.WebhookStatusProcessed, h.ledgerStatus(t, "evt_checkout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubscriptionsSold.WithLabelValues("Premium")))
	assert.Equal(t, 1, h.fetcher.calls)
}

func TestProcess_CheckoutReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Elite")
	userID := gofakeit.UUID()
	h.fetcher.sub = providerSubscription(plan.ID, stripe.PriceRecurringIntervalMonth)

	payload, header := signedEvent(t, "evt_replay", "checkout.session.completed", checkoutSession(userID, plan.ID))

	first, err := h.processor.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, first)

	second, err := h.processor.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second)

	assert.Equal(t, 1, h.count(t, "payment_transactions", "user_id = $1", userID))
	assert.Equal(t, 1, h.count(t, "user_subscriptions", "user_id = $1 AND status = $2", userID, models.SubscriptionStatusActive))
	assert.Equal(t, 1, h.count(t, "payment_notifications", ""))
	assert.Equal(t, 1, h.count(t, "webhook_events", ""))
	assert.Equal(t, 1, h.fetcher.calls, "duplicates never reach the provider")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhookEvents.WithLabelValues("checkout.session.completed", "duplicate")))
}

func TestProcess_CrashedDeliveryIsNotRedispatched(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Premium")
	userID := gofakeit.UUID()
	h.fetcher.sub = providerSubscription(plan.ID, stripe.PriceRecurringIntervalMonth)

	payload, header := signedEvent(t, "evt_crash", "checkout.session.completed", checkoutSession(userID, plan.ID))
	outcome, err := h.processor.Process(context.Background(), payload, header)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	// Leave the row as a worker that died after committing would: pending with an old lease
	_, err = h.store.DB().Exec(`UPDATE webhook_events SET status = $1, updated_at = $2 WHERE event_id = $3`,
		models.WebhookStatusPending, time.Now().UTC().Add(-time.Hour), "evt_crash")
	require.NoError(t, err)

	outcome, err = h.processor.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, h.count(t, "payment_transactions", "user_id = $1", userID))
	assert.Equal(t, 1, h.count(t, "payment_notifications", "user_id = $1", userID))
	assert.Equal(t, 1, h.count(t, "payment_invoices", "user_id = $1", userID))
}

func TestProcess_LostLeaseRollsBackHandlerWrites(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Premium")
	userID := gofakeit.UUID()
	h.fetcher.sub = providerSubscription(plan.ID, stripe.PriceRecurringIntervalMonth)

	// Another worker takes over the event while this one waits on Stripe
	h.fetcher.onCall = func() {
		_, err := h.store.DB().Exec(`UPDATE webhook_events SET attempts = attempts + 1 WHERE event_id = $1`, "evt_taken")
		require.NoError(t, err)
	}

	_, err := h.process(t, "evt_taken", "checkout.session.completed", checkoutSession(userID, plan.ID))
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	assert.Equal(t, 0, h.count(t, "payment_transactions", ""))
	assert.Equal(t, 0, h.count(t, "user_subscriptions", ""))
	assert.Equal(t, 0, h.count(t, "payment_notifications", ""))

	evt, err := h.store.GetWebhookEvent(context.Background(), "evt_taken")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusPending, evt.Status, "the current lease holder still owns the row")
	assert.Nil(t, evt.ProcessedAt)
}

func TestProcess_ConcurrentDeliveriesProcessOnce(t *testing.T) {
	h := newHarnessOn(t, testdata.OpenConcurrentDB(t, 8))
	plan := h.seedPlan(t, "Ultimate")
	userID := gofakeit.UUID()
	h.fetcher.sub = providerSubscription(plan.ID, stripe.PriceRecurringIntervalMonth)

	payload, header := signedEvent(t, "evt_storm", "checkout.session.completed", checkoutSession(userID, plan.ID))

	const deliveries = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcome, err := h.processor.Process(context.Background(), payload, header)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[outcome]++
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, outcomes[OutcomeProcessed])
	assert.Equal(t, deliveries-1, outcomes[OutcomeDuplicate])
	assert.Equal(t, 1, h.count(t, "payment_transactions", "user_id = $1", userID))
	assert.Equal(t, 1, h.count(t, "payment_notifications", "user_id = $1", userID))
	assert.Equal(t, 1, h.count(t, "webhook_events", ""))
	assert.Equal(t, models.WebhookStatusProcessed, h.ledgerStatus(t, "evt_storm"))
}

func TestProcess_SecondCheckoutKeepsOneSubscriptionPerUser(t *testing.T) {
	h := newHarness(t)
	premium := h.seedPlan(t, "Premium")
	ultimate := h.seedPlan(t, "Ultimate")
	userID := gofakeit.UUID()

	h.fetcher.sub = providerSubscription(premium.ID, stripe.PriceRecurringIntervalMonth)
	_, err := h.process(t, "evt_a", "checkout.session.completed", checkoutSession(userID, premium.ID))
	require.NoError(t, err)

	h.fetcher.sub = providerSubscription(ultimate.ID, stripe.PriceRecurringIntervalMonth)
	_, err = h.process(t, "evt_b", "checkout.session.completed", checkoutSession(userID, ultimate.ID))
	require.NoError(t, err)

	assert.Equal(t, 1, h.count(t, "user_subscriptions", "user_id = $1", userID))
	sub, err := h.store.GetSubscriptionByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Ultimate", sub.Tier)
}

func TestProcess_CheckoutFallsBackToSessionMetadata(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Premium")
	userID := gofakeit.UUID()

	session := checkoutSession(userID, plan.ID)
	delete(session, "subscription")
	delete(session, "payment_intent")

	_, err := h.process(t, "evt_one_off", "checkout.session.completed", session)
	require.NoError(t, err)

	assert.Equal(t, 0, h.fetcher.calls)
	assert.Equal(t, 1, h.count(t, "payment_transactions", "user_id = $1 AND payment_intent_id = ''", userID))
	sub, err := h.store.GetSubscriptionByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingCycleMonthly, sub.BillingCycle)
	assert.Nil(t, sub.CurrentPeriodEnd)
}

func TestProcess_ProviderFailureMarksEventFailedThenRetrySucceeds(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Premium")
	userID := gofakeit.UUID()
	h.fetcher.err = errors.New("stripe unavailable")

	payload, header := signedEvent(t, "evt_retry", "checkout.session.completed", checkoutSession(userID, plan.ID))

	_, err := h.processor.Process(context.Background(), payload, header)
	require.Error(t, err)
	assert.False(t, domain.IsInvalidSignature(err))

	evt, err := h.store.GetWebhookEvent(context.Background(), "evt_retry")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, evt.Status)
	assert.Contains(t, evt.LastError, "stripe unavailable")
	assert.Equal(t, 0, h.count(t, "payment_transactions", ""))

	h.fetcher.mu.Lock()
	h.fetcher.err = nil
	h.fetcher.sub = providerSubscription(plan.ID, stripe.PriceRecurringIntervalMonth)
	h.fetcher.mu.Unlock()

	outcome, err := h.processor.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	evt, err = h.store.GetWebhookEvent(context.Background(), "evt_retry")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, evt.Status)
	assert.Equal(t, 2, evt.Attempts)
	assert.Equal(t, 1, h.count(t, "payment_transactions", ""))
}

func TestProcess_ProviderLookupIsBounded(t *testing.T) {
	h := newHarness(t)
	plan := h.seedPlan(t, "Premium")
	h.fetcher.block = true

	start := time.Now()
	_, err := h.process(t, "evt_slow", "checkout.session.completed", checkoutSession(gofakeit.UUID(), plan.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, models.WebhookStatusFailed, h.ledgerStatus(t, "evt_slow"))
}

func TestProcess_UnknownPlanFails(t *testing.T) {
	h := newHarness(t)
	session := checkoutSession(gofakeit.UUID(), "plan-that-does-not-exist")
	delete(session, "subscription")

	_, err := h.process(t, "evt_unknown_plan", "checkout.session.completed", session)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
	assert.Equal(t, 0, h.count(t, "payment_transactions", ""), "transaction rolled back")
	assert.Equal(t, models.WebhookStatusFailed, h.ledgerStatus(t, "evt_unknown_plan"))
}

func TestProcess_CheckoutWithoutUserIsMalformed(t *testing.T) {
	h := newHarness(t)
	session := checkoutSession("", "plan")

	_, err := h.process(t, "evt_no_user", "checkout.session.completed", session)
	assert.True(t, domain.IsMalformedEvent(err))
	assert.Equal(t, models.WebhookStatusFailed, h.ledgerStatus(t, "evt_no_user"))
}

func TestProcess_PaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	txn := h.seedTransaction(t, "pi_ok")
	require.NoError(t, h.store.MarkTransactionFailed(context.Background(), txn.ID, "card_declined", "declined"))

	outcome, err := h.process(t, "evt_pi_ok", "payment_intent.succeeded", map[string]interface{}{"id": "pi_ok", "object": "payment_intent"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	got, err := h.store.FindTransactionByPaymentIntent(context.Background(), "pi_ok")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSucceeded, got.Status)
	assert.Equal(t, 1, h.count(t, "payment_notifications", "user_id = $1 AND type = $2", txn.UserID, models.NotificationPaymentSuccess))
}

func TestProcess_PaymentSucceededOutOfOrderIsNoop(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.process(t, "evt_early", "payment_intent.succeeded", map[string]interface{}{"id": "pi_unknown", "object": "payment_intent"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	assert.Equal(t, 0, h.count(t, "payment_notifications", ""))
	assert.Equal(t, 0, h.count(t, "payment_transactions", ""))
	assert.Equal(t, models.WebhookStatusProcessed, h.ledgerStatus(t, "evt_early"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhookOrphanedEvents.WithLabelValues("payment_intent.succeeded")))
}

func TestProcess_PaymentFailedStartsDunning(t *testing.T) {
	h := newHarness(t)
	txn := h.seedTransaction(t, "pi_declined")

	_, err := h.process(t, "evt_pi_failed", "payment_intent.payment_failed", map[string]interface{}{
		"id":     "pi_declined",
		"object": "payment_intent",
		"last_payment_error": map[string]interface{}{
			"code":    "card_declined",
			"message": "Your card was declined.",
		},
	})
	require.NoError(t, err)

	got, err := h.store.FindTransactionByPaymentIntent(context.Background(), "pi_declined")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, got.Status)
	assert.Equal(t, "card_declined", got.FailureCode)
	assert.Equal(t, "Your card was declined.", got.FailureMessage)

	var (
		retryCount int
		status     string
		nextRetry  time.Time
	)
	require.NoError(t, h.store.DB().QueryRow(
		`SELECT retry_count, status, next_retry_at FROM payment_failures WHERE transaction_id = $1`, txn.ID,
	).Scan(&retryCount, &status, &nextRetry))
	assert.Equal(t, 0, retryCount)
	assert.Equal(t, models.FailureStatusPendingRetry, status)
	assert.True(t, nextRetry.Equal(fixedNow.Add(72*time.Hour)), "next retry %s", nextRetry)

	assert.Equal(t, 1, h.count(t, "payment_notifications", "user_id = $1 AND type = $2", txn.UserID, models.NotificationPaymentFailed))
}

func TestProcess_PaymentFailedWithoutTransaction(t *testing.T) {
	h := newHarness(t)

	_, err := h.process(t, "evt_pf_orphan", "payment_intent.payment_failed", map[string]interface{}{"id": "pi_missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, h.count(t, "payment_failures", ""))
}

func TestProcess_SubscriptionUpdated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := gofakeit.UUID()
	require.NoError(t, h.store.UpsertSubscription(ctx, &models.Subscription{
		UserID: userID, PlanID: "p", Tier: "Premium", Status: models.SubscriptionStatusActive,
		BillingCycle: models.BillingCycleMonthly, StripeSubscriptionID: "sub_live",
	}))

	periodEnd := fixedNow.AddDate(0, 1, 0)
	_, err := h.process(t, "evt_sub_upd", "customer.subscription.updated", map[string]interface{}{
		"id":                   "sub_live",
		"object":               "subscription",
		"status":               "past_due",
		"current_period_start": fixedNow.Unix(),
		"current_period_end":   periodEnd.Unix(),
		"cancel_at_period_end": true,
	})
	require.NoError(t, err)

	sub, err := h.store.GetSubscriptionByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))

	_, err = h.process(t, "evt_sub_upd_orphan", "customer.subscription.updated", map[string]interface{}{"id": "sub_unknown", "status": "active"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhookOrphanedEvents.WithLabelValues("customer.subscription.updated")))
}

func TestProcess_SubscriptionDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := gofakeit.UUID()
	require.NoError(t, h.store.UpsertSubscription(ctx, &models.Subscription{
		UserID: userID, PlanID: "p", Tier: "Ultimate", Status: models.SubscriptionStatusActive,
		BillingCycle: models.BillingCycleMonthly, StripeSubscriptionID: "sub_gone",
	}))

	_, err := h.process(t, "evt_sub_del", "customer.subscription.deleted", map[string]interface{}{
		"id":     "sub_gone",
		"object": "subscription",
		"status": "canceled",
	})
	require.NoError(t, err)

	sub, err := h.store.GetSubscriptionByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.CanceledAt.Equal(fixedNow))
	assert.Equal(t, 1, h.count(t, "user_subscriptions", "user_id = $1", userID), "subscriptions are never deleted")
	assert.Equal(t, 1, h.count(t, "payment_notifications", "user_id = $1 AND type = $2", userID, models.NotificationSubscriptionCancelled))
}

func TestProcess_InvoicePaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	txn := h.seedTransaction(t, "pi_renewal")

	for _, id := range []string{"evt_inv_1", "evt_inv_2"} {
		_, err := h.process(t, id, "invoice.payment_succeeded", map[string]interface{}{
			"id":             "in_" + id,
			"object":         "invoice",
			"payment_intent": "pi_renewal",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, h.count(t, "payment_invoices", "transaction_id = $1", txn.ID))
}

func TestProcess_InvoicePaymentFailedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.seedTransaction(t, "pi_inv_fail")

	outcome, err := h.process(t, "evt_inv_fail", "invoice.payment_failed", map[string]interface{}{
		"id":             "in_1",
		"payment_intent": "pi_inv_fail",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, 0, h.count(t, "payment_failures", ""))
	assert.Equal(t, 0, h.count(t, "payment_notifications", ""))
}

func TestProcess_RefundRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.seedTransaction(t, "pi_1")
	require.NoError(t, h.store.CreateRefund(ctx, &models.Refund{TransactionID: txn.ID, Amount: 5, Reason: "requested_by_customer"}))

	_, err := h.process(t, "evt_refund", "charge.refunded", map[string]interface{}{
		"id":              "ch_1",
		"object":          "charge",
		"payment_intent":  "pi_1",
		"amount_refunded": 500,
		"metadata":        map[string]string{"transaction_id": txn.ID},
		"refunds": map[string]interface{}{
			"object": "list",
			"data":   []map[string]interface{}{{"id": "re_1", "object": "refund"}},
		},
	})
	require.NoError(t, err)

	got, err := h.store.FindTransactionByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRefunded, got.Status)
	assert.True(t, got.Refunded)
	assert.InDelta(t, 5.00, got.RefundedAmount, 0.001)

	assert.Equal(t, 1, h.count(t, "refunds", "transaction_id = $1 AND status = $2 AND stripe_refund_id = $3",
		txn.ID, models.RefundStatusCompleted, "re_1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RefundsProcessed))
}

func TestProcess_RefundWithoutMetadataStillFlagsTransaction(t *testing.T) {
	h := newHarness(t)
	h.seedTransaction(t, "pi_2")

	_, err := h.process(t, "evt_refund_nometa", "charge.refunded", map[string]interface{}{
		"id":              "ch_2",
		"payment_intent":  "pi_2",
		"amount_refunded": 1234,
	})
	require.NoError(t, err)

	got, err := h.store.FindTransactionByPaymentIntent(context.Background(), "pi_2")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRefunded, got.Status)
	assert.InDelta(t, 12.34, got.RefundedAmount, 0.001)
}

func TestProcess_UnhandledTypeIsIgnoredButLogged(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.process(t, "evt_other", "customer.created", map[string]interface{}{"id": "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, models.WebhookStatusProcessed, h.ledgerStatus(t, "evt_other"))

	outcome, err = h.process(t, "evt_other", "customer.created", map[string]interface{}{"id": "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestBillingCycle(t *testing.T) {
	assert.Equal(t, models.BillingCycleMonthly, billingCycle(nil))
	assert.Equal(t, models.BillingCycleMonthly, billingCycle(&stripe.Subscription{}))
	assert.Equal(t, models.BillingCycleYearly, billingCycle(providerSubscription("p", stripe.PriceRecurringIntervalYear)))
	assert.Equal(t, models.BillingCycleMonthly, billingCycle(providerSubscription("p", stripe.PriceRecurringIntervalWeek)))
}

func TestUnixTime(t *testing.T) {
	assert.Nil(t, unixTime(0))
	got := unixTime(1700000000)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
}
