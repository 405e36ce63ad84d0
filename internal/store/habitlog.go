package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voltakids/boltsync/internal/schema"
)

const habitLogColumns = `id, profile_id, habit_id, status, duration_seconds,
	bolts_earned, completed_at, sync_status, last_modified, retry_count, last_retry`

// UpsertHabitLog inserts or replaces a habit log row by id.
func (s *Store) UpsertHabitLog(ctx context.Context, l *schema.HabitLog) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid habit log: %w", err)
	}

	query := `
	INSERT INTO habits_log (
		id, profile_id, habit_id, status, duration_seconds,
		bolts_earned, completed_at, sync_status, last_modified, retry_count, last_retry
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		profile_id = excluded.profile_id,
		habit_id = excluded.habit_id,
		status = excluded.status,
		duration_seconds = excluded.duration_seconds,
		bolts_earned = excluded.bolts_earned,
		completed_at = excluded.completed_at,
		sync_status = excluded.sync_status,
		last_modified = excluded.last_modified,
		retry_count = excluded.retry_count,
		last_retry = excluded.last_retry
	`

	_, err := s.conn.ExecContext(ctx, query,
		l.ID,
		l.ProfileID,
		l.HabitID,
		l.Status,
		l.DurationSeconds,
		l.BoltsEarned,
		l.CompletedAt.UTC().Format(time.RFC3339),
		l.SyncStatus,
		l.LastModified.Format(time.RFC3339),
		l.RetryCount,
		timeToNullString(l.LastRetry),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert habit log %s: %w", l.ID, err)
	}

	return nil
}

// GetHabitLog retrieves a habit log by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetHabitLog(ctx context.Context, id string) (*schema.HabitLog, error) {
	query := `SELECT ` + habitLogColumns + ` FROM habits_log WHERE id = ?`
	return scanHabitLogRow(s.conn.QueryRowContext(ctx, query, id))
}

// ListHabitLogs returns all logs for a profile, newest first.
func (s *Store) ListHabitLogs(ctx context.Context, profileID string) ([]*schema.HabitLog, error) {
	query := `
	SELECT ` + habitLogColumns + `
	FROM habits_log
	WHERE profile_id = ?
	ORDER BY completed_at DESC
	`
	rows, err := s.conn.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list habit logs: %w", err)
	}
	defer rows.Close()

	return collectHabitLogs(rows)
}

// DeleteHabitLogsInRange removes a profile's logs with completed_at in
// [start, end) and returns the ids of the removed rows so the caller can
// replay the deletes remotely. completed_at is stored as UTC RFC3339, so
// the text comparison is chronological.
func (s *Store) DeleteHabitLogsInRange(ctx context.Context, profileID string, start, end time.Time) ([]string, error) {
	selectQuery := `
	SELECT id FROM habits_log
	WHERE profile_id = ? AND completed_at >= ? AND completed_at < ?
	`
	rows, err := s.conn.QueryContext(ctx, selectQuery,
		profileID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to select habit logs for deletion: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan habit log id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating habit log ids: %w", err)
	}

	deleteQuery := `
	DELETE FROM habits_log
	WHERE profile_id = ? AND completed_at >= ? AND completed_at < ?
	`
	if _, err := s.conn.ExecContext(ctx, deleteQuery,
		profileID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("failed to delete habit logs: %w", err)
	}

	return ids, nil
}

// PendingHabitLogs returns habit logs eligible for outbound sync. Logs
// owned by a guest profile stay local until the profile is migrated.
func (s *Store) PendingHabitLogs(ctx context.Context, maxRetries int) ([]*schema.HabitLog, error) {
	query := `
	SELECT ` + habitLogColumns + `
	FROM habits_log
	WHERE sync_status = ? AND retry_count < ?
	  AND profile_id IN (SELECT id FROM profiles WHERE user_id IS NOT NULL)
	`
	rows, err := s.conn.QueryContext(ctx, query, schema.SyncStatusPending, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending habit logs: %w", err)
	}
	defer rows.Close()

	return collectHabitLogs(rows)
}

func collectHabitLogs(rows *sql.Rows) ([]*schema.HabitLog, error) {
	var logs []*schema.HabitLog
	for rows.Next() {
		l, err := scanHabitLogRow(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating habit logs: %w", err)
	}
	return logs, nil
}

func scanHabitLogRow(row rowScanner) (*schema.HabitLog, error) {
	var (
		l            schema.HabitLog
		completedAt  string
		lastModified string
		lastRetry    sql.NullString
	)

	err := row.Scan(
		&l.ID,
		&l.ProfileID,
		&l.HabitID,
		&l.Status,
		&l.DurationSeconds,
		&l.BoltsEarned,
		&completedAt,
		&l.SyncStatus,
		&lastModified,
		&l.RetryCount,
		&lastRetry,
	)
	if err != nil {
		return nil, err
	}

	l.CompletedAt = parseTime(completedAt)
	l.LastModified = parseTime(lastModified)
	l.LastRetry = nullStringToTime(lastRetry)

	return &l, nil
}
