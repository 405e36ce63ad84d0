package store

import (
	"context"
	"fmt"
	"time"

	"github.com/voltakids/boltsync/internal/schema"
)

// MarkSynced records a successful remote write: status synced, retry
// state cleared.
func (s *Store) MarkSynced(ctx context.Context, table, id string) error {
	if !schema.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET sync_status = ?, retry_count = 0, last_retry = NULL WHERE id = ?`, table)
	if _, err := s.conn.ExecContext(ctx, query, schema.SyncStatusSynced, id); err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", table, id, err)
	}
	return nil
}

// MarkPending flags a record for outbound sync. Called immediately before
// any fallible remote attempt, since the attempt is not atomic with the
// local write.
func (s *Store) MarkPending(ctx context.Context, table, id string) error {
	if !schema.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`UPDATE %s SET sync_status = ? WHERE id = ?`, table)
	if _, err := s.conn.ExecContext(ctx, query, schema.SyncStatusPending, id); err != nil {
		return fmt.Errorf("failed to mark %s/%s pending: %w", table, id, err)
	}
	return nil
}

// BumpRetry records a failed sync attempt on a core-table record. The
// status stays pending; only the retry accounting moves.
func (s *Store) BumpRetry(ctx context.Context, table, id string, when time.Time) error {
	if !schema.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET retry_count = retry_count + 1, last_retry = ? WHERE id = ?`, table)
	if _, err := s.conn.ExecContext(ctx, query, when.Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("failed to bump retry on %s/%s: %w", table, id, err)
	}
	return nil
}

// ResetRetries returns a stuck record to the retry cycle. Administrative
// action; automatic retry never touches a record past the retry cap.
func (s *Store) ResetRetries(ctx context.Context, table, id string) error {
	if !schema.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET sync_status = ?, retry_count = 0, last_retry = NULL WHERE id = ?`, table)
	if _, err := s.conn.ExecContext(ctx, query, schema.SyncStatusPending, id); err != nil {
		return fmt.Errorf("failed to reset retries on %s/%s: %w", table, id, err)
	}
	return nil
}

// ResetAllRetries clears retry accounting on every pending record in a
// table and reports how many rows were touched.
func (s *Store) ResetAllRetries(ctx context.Context, table string) (int64, error) {
	if !schema.KnownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET retry_count = 0, last_retry = NULL
		 WHERE sync_status = ? AND retry_count > 0`, table)
	res, err := s.conn.ExecContext(ctx, query, schema.SyncStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to reset retries on %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset rows on %s: %w", table, err)
	}
	return n, nil
}

// StuckCount returns the number of records that have exhausted their
// retry budget: pending core-table rows and pending queue items at or
// past maxRetries. Permanently failed queue items are excluded; they
// are sidelined for manual intervention and surface through Stats and
// the queue listing instead.
func (s *Store) StuckCount(ctx context.Context, maxRetries int) (int, error) {
	total := 0

	for _, table := range schema.Tables() {
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE sync_status = ? AND retry_count >= ?`, table)
		var n int
		if err := s.conn.QueryRowContext(ctx, query, schema.SyncStatusPending, maxRetries).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count stuck records in %s: %w", table, err)
		}
		total += n
	}

	var n int
	query := `SELECT COUNT(*) FROM sync_queue WHERE status = ? AND retry_count >= ?`
	if err := s.conn.QueryRowContext(ctx, query,
		schema.QueueStatusPending, maxRetries).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stuck queue items: %w", err)
	}
	total += n

	return total, nil
}

// SyncCounts summarizes per-table sync state for status reporting.
type SyncCounts struct {
	Table   string
	Total   int
	Pending int
	Stuck   int
}

// CountSyncState returns per-table totals plus queue depth.
func (s *Store) CountSyncState(ctx context.Context, maxRetries int) ([]SyncCounts, int, error) {
	var counts []SyncCounts

	for _, table := range schema.Tables() {
		var c SyncCounts
		c.Table = table

		if err := s.conn.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&c.Total); err != nil {
			return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
		}
		if err := s.conn.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sync_status = ?`, table),
			schema.SyncStatusPending).Scan(&c.Pending); err != nil {
			return nil, 0, fmt.Errorf("failed to count pending %s: %w", table, err)
		}
		if err := s.conn.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sync_status = ? AND retry_count >= ?`, table),
			schema.SyncStatusPending, maxRetries).Scan(&c.Stuck); err != nil {
			return nil, 0, fmt.Errorf("failed to count stuck %s: %w", table, err)
		}

		counts = append(counts, c)
	}

	var queueDepth int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&queueDepth); err != nil {
		return nil, 0, fmt.Errorf("failed to count sync queue: %w", err)
	}

	return counts, queueDepth, nil
}

// ApplyRemoteRecord writes an inbound remote-originated row with
// insert-or-replace semantics keyed by id. The row must already be in
// local column layout; the caller stamps sync metadata.
func (s *Store) ApplyRemoteRecord(ctx context.Context, table string, row map[string]any) error {
	switch table {
	case schema.TableProfiles:
		return s.applyRemoteProfile(ctx, row)
	case schema.TableHabitsLog:
		return s.applyRemoteHabitLog(ctx, row)
	case schema.TableCoupons:
		return s.applyRemoteCoupon(ctx, row)
	default:
		return fmt.Errorf("unknown table %q", table)
	}
}

func (s *Store) applyRemoteProfile(ctx context.Context, row map[string]any) error {
	query := `
	INSERT OR REPLACE INTO profiles (
		id, user_id, child_name, avatar_id, selected_buddy,
		bolt_balance, is_guest, sync_status, last_modified, retry_count, last_retry
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := s.conn.ExecContext(ctx, query,
		row["id"],
		row["user_id"],
		row["child_name"],
		row["avatar_id"],
		row["selected_buddy"],
		row["bolt_balance"],
		row["is_guest"],
		row["sync_status"],
		row["last_modified"],
		row["retry_count"],
	)
	if err != nil {
		return fmt.Errorf("failed to apply remote profile: %w", err)
	}
	return nil
}

func (s *Store) applyRemoteHabitLog(ctx context.Context, row map[string]any) error {
	query := `
	INSERT OR REPLACE INTO habits_log (
		id, profile_id, habit_id, status, duration_seconds,
		bolts_earned, completed_at, sync_status, last_modified, retry_count, last_retry
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := s.conn.ExecContext(ctx, query,
		row["id"],
		row["profile_id"],
		row["habit_id"],
		row["status"],
		row["duration_seconds"],
		row["bolts_earned"],
		normalizeTimestamp(row["completed_at"]),
		row["sync_status"],
		row["last_modified"],
		row["retry_count"],
	)
	if err != nil {
		return fmt.Errorf("failed to apply remote habit log: %w", err)
	}
	return nil
}

func (s *Store) applyRemoteCoupon(ctx context.Context, row map[string]any) error {
	query := `
	INSERT OR REPLACE INTO coupons (
		id, profile_id, title, bolt_cost, category,
		is_redeemed, created_at, sync_status, last_modified, retry_count, last_retry
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := s.conn.ExecContext(ctx, query,
		row["id"],
		row["profile_id"],
		row["title"],
		row["bolt_cost"],
		row["category"],
		row["is_redeemed"],
		row["created_at"],
		row["sync_status"],
		row["last_modified"],
		row["retry_count"],
	)
	if err != nil {
		return fmt.Errorf("failed to apply remote coupon: %w", err)
	}
	return nil
}

// DeleteByID removes a row from a core table by primary id. Returns nil
// if the row doesn't exist (idempotent).
func (s *Store) DeleteByID(ctx context.Context, table, id string) error {
	if !schema.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	if _, err := s.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}
