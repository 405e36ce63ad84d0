package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voltakids/boltsync/internal/schema"
)

const queueColumns = `id, table_name, operation, data, status, retry_count, last_retry, created_at`

// Enqueue appends a replay item to the sync queue and returns its id.
func (s *Store) Enqueue(ctx context.Context, item *schema.QueueItem) (int64, error) {
	if item.Status == "" {
		item.Status = schema.QueueStatusPending
	}

	query := `
	INSERT INTO sync_queue (table_name, operation, data, status, retry_count, last_retry, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.conn.ExecContext(ctx, query,
		item.TableName,
		item.Operation,
		item.Data,
		item.Status,
		item.RetryCount,
		timeToNullString(item.LastRetry),
		item.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s: %w", item.Operation, item.TableName, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue item id: %w", err)
	}
	item.ID = id

	return id, nil
}

// PendingQueueItems returns replayable queue items oldest-first: pending
// status and under the retry cap.
func (s *Store) PendingQueueItems(ctx context.Context, maxRetries int) ([]*schema.QueueItem, error) {
	query := `
	SELECT ` + queueColumns + `
	FROM sync_queue
	WHERE status = ? AND retry_count < ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, schema.QueueStatusPending, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var items []*schema.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}

	return items, nil
}

// ListQueueItems returns every queue item oldest-first, regardless of
// status. Used by administrative tooling.
func (s *Store) ListQueueItems(ctx context.Context) ([]*schema.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue ORDER BY created_at ASC, id ASC`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue: %w", err)
	}
	defer rows.Close()

	var items []*schema.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}

	return items, nil
}

// DeleteQueueItem removes a queue item after successful replay.
func (s *Store) DeleteQueueItem(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	return nil
}

// MarkQueueItemFailed permanently sidelines a queue item whose payload
// cannot be replayed. Failed items are excluded from the retry cycle and
// require administrative intervention.
func (s *Store) MarkQueueItemFailed(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET status = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, schema.QueueStatusFailed, id); err != nil {
		return fmt.Errorf("failed to mark queue item %d failed: %w", id, err)
	}
	return nil
}

// BumpQueueRetry records a failed replay attempt on a queue item.
func (s *Store) BumpQueueRetry(ctx context.Context, id int64, when time.Time) error {
	query := `UPDATE sync_queue SET retry_count = retry_count + 1, last_retry = ? WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, when.Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("failed to bump retry on queue item %d: %w", id, err)
	}
	return nil
}

// ResetQueueRetries returns a stuck or failed queue item to the retry
// cycle. Administrative action.
func (s *Store) ResetQueueRetries(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET status = ?, retry_count = 0, last_retry = NULL WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, schema.QueueStatusPending, id); err != nil {
		return fmt.Errorf("failed to reset queue item %d: %w", id, err)
	}
	return nil
}

// ResetAllQueueRetries returns every stuck or failed queue item to the
// retry cycle and reports how many rows were touched.
func (s *Store) ResetAllQueueRetries(ctx context.Context) (int64, error) {
	query := `UPDATE sync_queue SET status = ?, retry_count = 0, last_retry = NULL
	          WHERE retry_count > 0 OR status = ?`
	res, err := s.conn.ExecContext(ctx, query, schema.QueueStatusPending, schema.QueueStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset queue retries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset queue items: %w", err)
	}
	return n, nil
}

func scanQueueItem(rows *sql.Rows) (*schema.QueueItem, error) {
	var (
		item      schema.QueueItem
		lastRetry sql.NullString
		createdAt string
	)

	err := rows.Scan(
		&item.ID,
		&item.TableName,
		&item.Operation,
		&item.Data,
		&item.Status,
		&item.RetryCount,
		&lastRetry,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	item.LastRetry = nullStringToTime(lastRetry)
	item.CreatedAt = parseTime(createdAt)

	return &item, nil
}
