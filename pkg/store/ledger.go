package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/models"
)

// maxErrorLength bounds last_error so a provider dump cannot bloat the ledger
const maxErrorLength = 1000

// Lease identifies one dispatch of a claimed event. Finalizing with a lease
// that is no longer current matches no row.
type Lease struct {
	EventID string
	Attempt int
}

// ClaimEvent takes the processing lease for a provider event. It returns a
// lease when the caller should dispatch: the event is new, its previous
// attempt failed, or its pending lease is older than leaseTimeout. Events
// whose writes were committed, and live leases, return nil.
func (s *Store) ClaimEvent(ctx context.Context, eventID, eventType string, payload []byte, leaseTimeout time.Duration) (*Lease, error) {
	now := s.now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, event_id, event_type, status, payload, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, '', $6, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		uuid.NewString(), eventID, eventType, models.WebhookStatusPending, string(payload), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to log webhook event: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	} else if n == 1 {
		return &Lease{EventID: eventID, Attempt: 1}, nil
	}

	var attempt int
	err = s.db.QueryRowContext(ctx,
		`UPDATE webhook_events SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE event_id = $3 AND processed_at IS NULL AND (status = $4 OR (status = $1 AND updated_at < $5))
		RETURNING attempts`,
		models.WebhookStatusPending, now, eventID, models.WebhookStatusFailed, now.Add(-leaseTimeout),
	).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim webhook event: %w", err)
	}
	return &Lease{EventID: eventID, Attempt: attempt}, nil
}

// MarkEventProcessed finalizes a claimed event. Run inside WithTx it commits
// together with the handler's writes; a lost lease rolls them back.
func (r *repo) MarkEventProcessed(ctx context.Context, lease Lease) error {
	now := r.now()
	res, err := r.q.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, last_error = '', processed_at = $2, updated_at = $2
		WHERE event_id = $3 AND status = $4 AND attempts = $5`,
		models.WebhookStatusProcessed, now, lease.EventID, models.WebhookStatusPending, lease.Attempt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return expectLease(res, lease)
}

// MarkEventFailed records the dispatch error so a provider retry can reclaim the event
func (s *Store) MarkEventFailed(ctx context.Context, lease Lease, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, last_error = $2, updated_at = $3
		WHERE event_id = $4 AND status = $5 AND attempts = $6`,
		models.WebhookStatusFailed, truncateUTF8(reason, maxErrorLength), s.now(),
		lease.EventID, models.WebhookStatusPending, lease.Attempt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return expectLease(res, lease)
}

func expectLease(res sql.Result, lease Lease) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewConflictError(fmt.Sprintf("lease %d on webhook event %s is no longer held", lease.Attempt, lease.EventID))
	}
	return nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ExpireStalePending fails pending events whose lease is older than leaseTimeout
func (s *Store) ExpireStalePending(ctx context.Context, leaseTimeout time.Duration, reason string) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, last_error = $2, updated_at = $3 WHERE status = $4 AND updated_at < $5`,
		models.WebhookStatusFailed, reason, now, models.WebhookStatusPending, now.Add(-leaseTimeout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending webhook events: %w", err)
	}
	return res.RowsAffected()
}

// PruneProcessed deletes processed events older than retention
func (s *Store) PruneProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE status = $1 AND processed_at < $2`,
		models.WebhookStatusProcessed, s.now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook events: %w", err)
	}
	return res.RowsAffected()
}

// CountWebhookEventsByStatus returns the number of ledger rows per status
func (s *Store) CountWebhookEventsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count webhook events: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{
		models.WebhookStatusPending:   0,
		models.WebhookStatusProcessed: 0,
		models.WebhookStatusFailed:    0,
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const webhookEventColumns = `id, event_id, event_type, status, payload, attempts, last_error, processed_at, created_at, updated_at`

// GetWebhookEvent returns the ledger row for a provider event id
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE event_id = $1`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook event: %w", err)
	}
	events, err := scanWebhookEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.NewNotFoundError("webhook event")
	}
	return &events[0], nil
}

// ListWebhookEvents returns the newest ledger rows, optionally filtered by status
func (s *Store) ListWebhookEvents(ctx context.Context, status string, limit int) ([]models.WebhookEvent, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+webhookEventColumns+` FROM webhook_events ORDER BY created_at DESC LIMIT $1`, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+webhookEventColumns+` FROM webhook_events WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return scanWebhookEvents(rows)
}

func scanWebhookEvents(rows *sql.Rows) ([]models.WebhookEvent, error) {
	defer rows.Close()

	events := []models.WebhookEvent{}
	for rows.Next() {
		var (
			e           models.WebhookEvent
			processedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Status, &e.Payload, &e.Attempts,
			&e.LastError, &processedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		e.ProcessedAt = timePtr(processedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook events: %w", err)
	}
	return events, nil
}
