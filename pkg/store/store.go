// Package store persists billing state with hand-written SQL that runs
// unchanged on Postgres and SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/greenofig/greenofig/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository is the row-level API used by webhook handlers and readers.
// The same methods run either directly on the pool or inside WithTx.
type Repository interface {
	// Plans
	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	FindPlan(ctx context.Context, id string) (*models.SubscriptionPlan, error)

	// Subscriptions
	GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscriptionState(ctx context.Context, id string, update SubscriptionUpdate) error
	CancelSubscription(ctx context.Context, id string, canceledAt time.Time) error

	// Overrides
	GetFeatureOverride(ctx context.Context, userID string) ([]byte, error)
	SetFeatureOverride(ctx context.Context, userID string, features []byte) error

	// Transactions
	InsertTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	FindTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.PaymentTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id, status string) error
	MarkTransactionFailed(ctx context.Context, id, code, message string) error
	MarkTransactionRefunded(ctx context.Context, id string, amount float64) error

	// Side-effect records
	InsertPaymentFailure(ctx context.Context, failure *models.PaymentFailure) error
	InsertNotification(ctx context.Context, n *models.Notification) error
	CreateInvoice(ctx context.Context, inv *models.Invoice) (bool, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	CompleteRefund(ctx context.Context, transactionID, stripeRefundID string, processedAt time.Time) (bool, error)

	// Ledger
	MarkEventProcessed(ctx context.Context, lease Lease) error
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces the timestamp source; times are always stored in UTC
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = func() time.Time { return now().UTC() }
	}
}

// Store owns the connection pool and the webhook ledger
type Store struct {
	Repository

	db  *sql.DB
	now func() time.Time
}

// New creates a Store on db
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Repository = &repo{q: db, now: s.now}
	return s
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn in a single database transaction. fn's error rolls back.
// Only the Repository passed to fn may be used until it returns.
func (s *Store) WithTx(ctx context.Context, fn func(Repository) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&repo{q: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type repo struct {
	q   querier
	now func() time.Time
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
