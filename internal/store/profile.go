package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voltakids/boltsync/internal/schema"
)

const profileColumns = `id, user_id, child_name, avatar_id, selected_buddy,
	bolt_balance, is_guest, sync_status, last_modified, retry_count, last_retry`

// UpsertProfile inserts or replaces a profile row by id.
func (s *Store) UpsertProfile(ctx context.Context, p *schema.Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	query := `
	INSERT INTO profiles (
		id, user_id, child_name, avatar_id, selected_buddy,
		bolt_balance, is_guest, sync_status, last_modified, retry_count, last_retry
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		child_name = excluded.child_name,
		avatar_id = excluded.avatar_id,
		selected_buddy = excluded.selected_buddy,
		bolt_balance = excluded.bolt_balance,
		is_guest = excluded.is_guest,
		sync_status = excluded.sync_status,
		last_modified = excluded.last_modified,
		retry_count = excluded.retry_count,
		last_retry = excluded.last_retry
	`

	_, err := s.conn.ExecContext(ctx, query,
		p.ID,
		nullableString(p.UserID),
		p.ChildName,
		p.AvatarID,
		p.SelectedBuddy,
		p.BoltBalance,
		boolToInt(p.IsGuest),
		p.SyncStatus,
		p.LastModified.Format(time.RFC3339),
		p.RetryCount,
		timeToNullString(p.LastRetry),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.ID, err)
	}

	return nil
}

// GetProfileByID retrieves a profile by primary id.
// Returns sql.ErrNoRows if the profile is not found.
func (s *Store) GetProfileByID(ctx context.Context, id string) (*schema.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	return scanProfile(s.conn.QueryRowContext(ctx, query, id))
}

// GetProfileByKey retrieves a profile by primary id or user id.
// Returns sql.ErrNoRows if no profile matches.
func (s *Store) GetProfileByKey(ctx context.Context, key string) (*schema.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ? OR user_id = ?`
	return scanProfile(s.conn.QueryRowContext(ctx, query, key, key))
}

// GetGuestProfile retrieves the local guest profile.
// Returns sql.ErrNoRows if none exists.
func (s *Store) GetGuestProfile(ctx context.Context) (*schema.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE is_guest = 1`
	return scanProfile(s.conn.QueryRowContext(ctx, query))
}

// UpdateBoltBalance sets a profile's bolt balance along with its sync
// metadata in a single statement.
func (s *Store) UpdateBoltBalance(ctx context.Context, id string, balance int, syncStatus string, lastModified time.Time) error {
	query := `
	UPDATE profiles
	SET bolt_balance = ?, sync_status = ?, last_modified = ?
	WHERE id = ?
	`
	_, err := s.conn.ExecContext(ctx, query, balance, syncStatus, lastModified.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update bolt balance for %s: %w", id, err)
	}
	return nil
}

// PendingProfiles returns profiles eligible for outbound sync: pending,
// under the retry cap, and not guest records. Guest profiles live only
// locally until migration.
func (s *Store) PendingProfiles(ctx context.Context, maxRetries int) ([]*schema.Profile, error) {
	query := `
	SELECT ` + profileColumns + `
	FROM profiles
	WHERE sync_status = ? AND retry_count < ? AND user_id IS NOT NULL
	`
	rows, err := s.conn.QueryContext(ctx, query, schema.SyncStatusPending, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*schema.Profile
	for rows.Next() {
		p, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending profiles: %w", err)
	}

	return profiles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row *sql.Row) (*schema.Profile, error) {
	return scanProfileRow(row)
}

func scanProfileRow(row rowScanner) (*schema.Profile, error) {
	var (
		p            schema.Profile
		userID       sql.NullString
		isGuest      int
		lastModified string
		lastRetry    sql.NullString
	)

	err := row.Scan(
		&p.ID,
		&userID,
		&p.ChildName,
		&p.AvatarID,
		&p.SelectedBuddy,
		&p.BoltBalance,
		&isGuest,
		&p.SyncStatus,
		&lastModified,
		&p.RetryCount,
		&lastRetry,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		p.UserID = &userID.String
	}
	p.IsGuest = isGuest != 0
	p.LastModified = parseTime(lastModified)
	p.LastRetry = nullStringToTime(lastRetry)

	return &p, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
