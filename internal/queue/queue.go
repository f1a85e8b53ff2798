package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx, so inserts run standalone or
// inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func markProcessed(ctx context.Context, ex execer, updateID int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := ex.ExecContext(ctx, `
INSERT INTO processed_updates(update_id, received_at)
VALUES(?, ?)
ON CONFLICT(update_id) DO NOTHING;
`, updateID, now)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed rows affected: %w", err)
	}
	return n == 1, nil
}

func insertDelivery(ctx context.Context, ex execer, req EnqueueRequest) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	_, err := ex.ExecContext(ctx, `
INSERT INTO delivery_queue(
  id, update_id, update_type, chat_id, payload, status, attempt, max_attempts, created_at
)
VALUES(?, ?, ?, ?, ?, ?, 1, ?, ?);
`, id, req.UpdateID, req.UpdateType, req.ChatID, string(req.Payload), StatusQueued, maxAttempts, now)
	if err != nil {
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	return id, nil
}

// MarkProcessed records an update_id in the dedupe table. Returns false if
// the update was already recorded, true if this is the first sighting.
func (q *Queue) MarkProcessed(ctx context.Context, updateID int64) (bool, error) {
	return markProcessed(ctx, q.db, updateID)
}

func validateEnqueue(req EnqueueRequest) error {
	if req.UpdateID <= 0 {
		return fmt.Errorf("update_id is empty")
	}
	if req.UpdateType == "" {
		return fmt.Errorf("update_type is empty")
	}
	if req.ChatID == 0 {
		return fmt.Errorf("chat_id is empty")
	}
	if len(req.Payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := validateEnqueue(req); err != nil {
		return "", err
	}
	return insertDelivery(ctx, q.db, req)
}

// EnqueueOnce records the update in the dedupe table and enqueues its
// delivery in one transaction. A failed enqueue rolls back the dedupe mark,
// so the sender's re-delivery is not mistaken for a duplicate. Returns
// first=false (and no delivery) when the update was already recorded.
func (q *Queue) EnqueueOnce(ctx context.Context, req EnqueueRequest) (deliveryID string, first bool, err error) {
	if err := validateEnqueue(req); err != nil {
		return "", false, err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	first, err = markProcessed(ctx, tx, req.UpdateID)
	if err != nil {
		return "", false, err
	}
	if !first {
		return "", false, nil
	}

	id, err := insertDelivery(ctx, tx, req)
	if err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit enqueue tx: %w", err)
	}
	return id, true, nil
}

// Dequeue claims the oldest queued delivery whose retry time has passed and
// marks it running. Returns (nil, nil) if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	now := time.Now().UTC()
	nowS := now.Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM delivery_queue
  WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE delivery_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING
  id, update_id, update_type, chat_id, payload, status, attempt, max_attempts,
  created_at, started_at, completed_at, next_retry_at, last_error;
`, StatusQueued, nowS, StatusRunning, nowS)

	var (
		d            Delivery
		payload      string
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		nextRetryAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.UpdateID, &d.UpdateType, &d.ChatID, &payload, &statusS, &d.Attempt, &d.MaxAttempts,
		&createdAtS, &startedAtS, &completedAtS, &nextRetryAtS, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue delivery: %w", err)
	}

	d.Status = Status(statusS)
	d.Payload = []byte(payload)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		d.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			d.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			d.CompletedAt = &t
		}
	}
	if nextRetryAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRetryAtS.String); err == nil {
			d.NextRetryAt = &t
		}
	}
	if lastError.Valid {
		d.LastError = &lastError.String
	}
	return &d, nil
}

// Complete marks a delivery terminal and appends a row to delivery_log.
func (q *Queue) Complete(ctx context.Context, deliveryID string, status Status, lastError *string) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}
	if status != StatusDelivered && status != StatusFailed && status != StatusDead {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		updateID   int64
		updateType string
		chatID     int64
		attempt    int
		createdAt  string
	)
	if err := tx.QueryRowContext(ctx, `
SELECT update_id, update_type, chat_id, attempt, created_at
FROM delivery_queue
WHERE id = ?;
`, deliveryID).Scan(&updateID, &updateType, &chatID, &attempt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDeliveryNotFound
		}
		return fmt.Errorf("load delivery for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.ExecContext(ctx, `
UPDATE delivery_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, deliveryID)
	if err != nil {
		return fmt.Errorf("update delivery completion: %w", err)
	}

	logID := fmt.Sprintf("%s-%d", deliveryID, attempt)
	_, err = tx.ExecContext(ctx, `
INSERT INTO delivery_log(
  id, update_id, update_type, chat_id, status, attempt, created_at, completed_at, last_error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, logID, updateID, updateType, chatID, status, attempt, createdAt, completedAt, lastError)
	if err != nil {
		return fmt.Errorf("insert delivery_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Retry reschedules a failed attempt with exponential backoff
// (backoffBase * 2^(attempt-1)). When attempts are exhausted the delivery is
// marked dead instead.
func (q *Queue) Retry(ctx context.Context, deliveryID string, backoffBase time.Duration, lastError string) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}

	var attempt, maxAttempts int
	err := q.db.QueryRowContext(ctx, `
SELECT attempt, max_attempts FROM delivery_queue WHERE id = ?;
`, deliveryID).Scan(&attempt, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDeliveryNotFound
	}
	if err != nil {
		return fmt.Errorf("load delivery for retry: %w", err)
	}

	if attempt >= maxAttempts {
		msg := fmt.Sprintf("max attempts (%d) exhausted: %s", maxAttempts, lastError)
		return q.Complete(ctx, deliveryID, StatusDead, &msg)
	}

	backoff := backoffBase << (attempt - 1)
	nextRetryAt := time.Now().UTC().Add(backoff).Format(time.RFC3339Nano)

	_, err = q.db.ExecContext(ctx, `
UPDATE delivery_queue
SET status = ?, attempt = attempt + 1, next_retry_at = ?, last_error = ?
WHERE id = ?;
`, StatusQueued, nextRetryAt, lastError, deliveryID)
	if err != nil {
		return fmt.Errorf("reschedule delivery: %w", err)
	}
	return nil
}

// Depth returns the number of queued deliveries.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM delivery_queue WHERE status = ?;
`, StatusQueued).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Stats returns aggregate delivery counters from delivery_log.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM delivery_log GROUP BY status;
`)
	if err != nil {
		return Stats{}, fmt.Errorf("delivery stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan delivery stats: %w", err)
		}
		switch Status(status) {
		case StatusDelivered:
			s.Delivered = count
		case StatusFailed:
			s.Failed = count
		case StatusDead:
			s.Dead = count
		}
	}
	return s, rows.Err()
}

// Recent returns the newest delivery_log entries, most recent first.
func (q *Queue) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT id, update_id, update_type, chat_id, status, attempt, created_at, completed_at, last_error
FROM delivery_log
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent deliveries: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			e            LogEntry
			statusS      string
			createdAtS   string
			completedAtS string
			lastError    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UpdateID, &e.UpdateType, &e.ChatID, &statusS, &e.Attempt, &createdAtS, &completedAtS, &lastError); err != nil {
			return nil, fmt.Errorf("scan delivery_log: %w", err)
		}
		e.Status = Status(statusS)
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedAtS); err == nil {
			e.CompletedAt = t
		}
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeExpired removes dedupe entries older than dedupeTTL and log rows older
// than retention. Returns the number of rows removed.
func (q *Queue) PurgeExpired(ctx context.Context, dedupeTTL, retention time.Duration) (int64, error) {
	now := time.Now().UTC()

	res, err := q.db.ExecContext(ctx, `
DELETE FROM processed_updates WHERE received_at < ?;
`, now.Add(-dedupeTTL).Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge processed_updates: %w", err)
	}
	purged, _ := res.RowsAffected()

	res, err = q.db.ExecContext(ctx, `
DELETE FROM delivery_log WHERE completed_at < ?;
`, now.Add(-retention).Format(time.RFC3339Nano))
	if err != nil {
		return purged, fmt.Errorf("purge delivery_log: %w", err)
	}
	n, _ := res.RowsAffected()
	return purged + n, nil
}
