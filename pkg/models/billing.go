package models

import "time"

// Subscription statuses mirrored from the payment provider
const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusIncomplete = "incomplete"
)

// Payment transaction statuses
const (
	TransactionStatusSucceeded = "succeeded"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunded  = "refunded"
)

// Billing cycles
const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Payment failure statuses
const (
	FailureStatusPendingRetry = "pending_retry"
)

// Notification types and statuses
const (
	NotificationPaymentSuccess        = "payment_success"
	NotificationPaymentFailed         = "payment_failed"
	NotificationSubscriptionCancelled = "subscription_cancelled"

	NotificationStatusPending = "pending"
)

// Refund statuses
const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
)

// Invoice statuses
const (
	InvoiceStatusPending = "pending"
)

// Webhook ledger statuses
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// SubscriptionPlan is a purchasable plan as configured by administrators
type SubscriptionPlan struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Tier         string  `json:"tier"`
	PriceMonthly float64 `json:"price_monthly"`
	PriceYearly  float64 `json:"price_yearly"`
	Active       bool    `json:"active"`
}

// Subscription is the user's current plan; one row per user
type Subscription struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	PlanID               string     `json:"plan_id"`
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	BillingCycle         string     `json:"billing_cycle"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsActive reports whether the subscription currently grants its plan
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// PaymentTransaction is a single payment attempt
type PaymentTransaction struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	PlanID            string    `json:"plan_id"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	PaymentIntentID   string    `json:"payment_intent_id,omitempty"`
	CheckoutSessionID string    `json:"checkout_session_id,omitempty"`
	BillingCycle      string    `json:"billing_cycle"`
	FailureCode       string    `json:"failure_code,omitempty"`
	FailureMessage    string    `json:"failure_message,omitempty"`
	Refunded          bool      `json:"refunded"`
	RefundedAmount    float64   `json:"refunded_amount"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PaymentFailure is the dunning record created for a failed payment
type PaymentFailure struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	FailureCode   string    `json:"failure_code"`
	FailureReason string    `json:"failure_reason"`
	RetryCount    int       `json:"retry_count"`
	Status        string    `json:"status"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Notification is a queued outbound message for the delivery workers
type Notification struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Subject       string    `json:"subject"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Invoice is a pending invoice record for a transaction; rendering happens elsewhere
type Invoice struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	InvoiceNumber string    `json:"invoice_number"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Refund is a refund request; completed once the provider confirms it
type Refund struct {
	ID             string     `json:"id"`
	TransactionID  string     `json:"transaction_id"`
	Amount         float64    `json:"amount"`
	Reason         string     `json:"reason,omitempty"`
	Status         string     `json:"status"`
	StripeRefundID string     `json:"stripe_refund_id,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// WebhookEvent is one row of the idempotency ledger
type WebhookEvent struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	Payload     string     `json:"-"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
