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

func (r *repo) InsertTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	now := r.now()
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.CreatedAt, txn.UpdatedAt = now, now

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payment_transactions (id, user_id, plan_id, amount, currency, status, payment_intent_id,
			checkout_session_id, billing_cycle, failure_code, failure_message, refunded, refunded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		txn.ID, txn.UserID, txn.PlanID, txn.Amount, txn.Currency, txn.Status, txn.PaymentIntentID,
		txn.CheckoutSessionID, txn.BillingCycle, txn.FailureCode, txn.FailureMessage, txn.Refunded, txn.RefundedAmount, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindTransactionByPaymentIntent returns the most recent transaction for the intent
func (r *repo) FindTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.PaymentTransaction, error) {
	if paymentIntentID == "" {
		return nil, domain.NewNotFoundError("payment transaction")
	}

	var t models.PaymentTransaction
	err := r.q.QueryRowContext(ctx,
		`SELECT id, user_id, plan_id, amount, currency, status, payment_intent_id, checkout_session_id,
			billing_cycle, failure_code, failure_message, refunded, refunded_amount, created_at, updated_at
		FROM payment_transactions WHERE payment_intent_id = $1
		ORDER BY created_at DESC LIMIT 1`, paymentIntentID,
	).Scan(
		&t.ID, &t.UserID, &t.PlanID, &t.Amount, &t.Currency, &t.Status, &t.PaymentIntentID, &t.CheckoutSessionID,
		&t.BillingCycle, &t.FailureCode, &t.FailureMessage, &t.Refunded, &t.RefundedAmount, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("payment transaction")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return &t, nil
}

func (r *repo) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payment_transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		status, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return expectRow(res, "payment transaction")
}

func (r *repo) MarkTransactionFailed(ctx context.Context, id, code, message string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payment_transactions SET status = $1, failure_code = $2, failure_message = $3, updated_at = $4 WHERE id = $5`,
		models.TransactionStatusFailed, code, message, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	return expectRow(res, "payment transaction")
}

func (r *repo) MarkTransactionRefunded(ctx context.Context, id string, amount float64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payment_transactions SET status = $1, refunded = $2, refunded_amount = $3, updated_at = $4 WHERE id = $5`,
		models.TransactionStatusRefunded, true, amount, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction refunded: %w", err)
	}
	return expectRow(res, "payment transaction")
}

func (r *repo) InsertPaymentFailure(ctx context.Context, f *models.PaymentFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = r.now()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payment_failures (id, transaction_id, user_id, failure_code, failure_reason, retry_count, status, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.TransactionID, f.UserID, f.FailureCode, f.FailureReason, f.RetryCount, f.Status, f.NextRetryAt.UTC(), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment failure: %w", err)
	}
	return nil
}

func (r *repo) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = models.NotificationStatusPending
	}
	n.CreatedAt = r.now()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payment_notifications (id, user_id, type, subject, message, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Subject, n.Message, n.Status, n.TransactionID, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// CreateInvoice records the invoice for a transaction once. It reports
// whether a new row was written.
func (r *repo) CreateInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Status == "" {
		inv.Status = models.InvoiceStatusPending
	}
	inv.CreatedAt = r.now()

	res, err := r.q.ExecContext(ctx,
		`INSERT INTO payment_invoices (id, transaction_id, user_id, invoice_number, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING`,
		inv.ID, inv.TransactionID, inv.UserID, inv.InvoiceNumber, inv.Amount, inv.Currency, inv.Status, inv.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *repo) CreateRefund(ctx context.Context, refund *models.Refund) error {
	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	if refund.Status == "" {
		refund.Status = models.RefundStatusPending
	}
	refund.CreatedAt = r.now()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO refunds (id, transaction_id, amount, reason, status, stripe_refund_id, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		refund.ID, refund.TransactionID, refund.Amount, refund.Reason, refund.Status,
		refund.StripeRefundID, nullTime(refund.ProcessedAt), refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// CompleteRefund completes the pending refund requests for a transaction.
// It reports whether any row changed.
func (r *repo) CompleteRefund(ctx context.Context, transactionID, stripeRefundID string, processedAt time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refunds SET status = $1, stripe_refund_id = $2, processed_at = $3
		WHERE transaction_id = $4 AND status = $5`,
		models.RefundStatusCompleted, stripeRefundID, processedAt.UTC(), transactionID, models.RefundStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
