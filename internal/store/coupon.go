package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/voltakids/boltsync/internal/schema"
)

const couponColumns = `id, profile_id, title, bolt_cost, category,
	is_redeemed, created_at, sync_status, last_modified, retry_count, last_retry`

// couponUpdatable lists the coupon columns that administrative partial
// updates may touch.
var couponUpdatable = map[string]bool{
	"title":       true,
	"bolt_cost":   true,
	"category":    true,
	"is_redeemed": true,
}

// UpsertCoupon inserts or replaces a coupon row by id.
func (s *Store) UpsertCoupon(ctx context.Context, c *schema.Coupon) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid coupon: %w", err)
	}

	query := `
	INSERT INTO coupons (
		id, profile_id, title, bolt_cost, category,
		is_redeemed, created_at, sync_status, last_modified, retry_count, last_retry
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		profile_id = excluded.profile_id,
		title = excluded.title,
		bolt_cost = excluded.bolt_cost,
		category = excluded.category,
		is_redeemed = excluded.is_redeemed,
		created_at = excluded.created_at,
		sync_status = excluded.sync_status,
		last_modified = excluded.last_modified,
		retry_count = excluded.retry_count,
		last_retry = excluded.last_retry
	`

	_, err := s.conn.ExecContext(ctx, query,
		c.ID,
		c.ProfileID,
		c.Title,
		c.BoltCost,
		c.Category,
		boolToInt(c.IsRedeemed),
		c.CreatedAt.Format(time.RFC3339),
		c.SyncStatus,
		c.LastModified.Format(time.RFC3339),
		c.RetryCount,
		timeToNullString(c.LastRetry),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert coupon %s: %w", c.ID, err)
	}

	return nil
}

// GetCoupon retrieves a coupon by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetCoupon(ctx context.Context, id string) (*schema.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = ?`
	return scanCouponRow(s.conn.QueryRowContext(ctx, query, id))
}

// ListCoupons returns all coupons for a profile, newest first.
func (s *Store) ListCoupons(ctx context.Context, profileID string) ([]*schema.Coupon, error) {
	query := `
	SELECT ` + couponColumns + `
	FROM coupons
	WHERE profile_id = ?
	ORDER BY created_at DESC
	`
	rows, err := s.conn.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	return collectCoupons(rows)
}

// UpdateCouponFields applies a partial field update to a coupon along
// with its sync metadata in a single statement. Field names are checked
// against the updatable column list; unknown fields are rejected.
func (s *Store) UpdateCouponFields(ctx context.Context, id string, fields map[string]any, syncStatus string, lastModified time.Time) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update for coupon %s", id)
	}

	var (
		sets []string
		args []any
	)
	for name, value := range fields {
		if !couponUpdatable[name] {
			return fmt.Errorf("coupon column %q is not updatable", name)
		}
		if name == "is_redeemed" {
			if b, ok := value.(bool); ok {
				value = boolToInt(b)
			}
		}
		sets = append(sets, name+" = ?")
		args = append(args, value)
	}
	sets = append(sets, "sync_status = ?", "last_modified = ?")
	args = append(args, syncStatus, lastModified.Format(time.RFC3339), id)

	query := "UPDATE coupons SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update coupon %s: %w", id, err)
	}

	return nil
}

// DeleteCoupon removes a coupon by id. Returns nil if it doesn't exist.
func (s *Store) DeleteCoupon(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM coupons WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete coupon %s: %w", id, err)
	}
	return nil
}

// PendingCoupons returns coupons eligible for outbound sync. Coupons
// owned by a guest profile stay local until the profile is migrated.
func (s *Store) PendingCoupons(ctx context.Context, maxRetries int) ([]*schema.Coupon, error) {
	query := `
	SELECT ` + couponColumns + `
	FROM coupons
	WHERE sync_status = ? AND retry_count < ?
	  AND profile_id IN (SELECT id FROM profiles WHERE user_id IS NOT NULL)
	`
	rows, err := s.conn.QueryContext(ctx, query, schema.SyncStatusPending, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending coupons: %w", err)
	}
	defer rows.Close()

	return collectCoupons(rows)
}

func collectCoupons(rows *sql.Rows) ([]*schema.Coupon, error) {
	var coupons []*schema.Coupon
	for rows.Next() {
		c, err := scanCouponRow(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coupons: %w", err)
	}
	return coupons, nil
}

func scanCouponRow(row rowScanner) (*schema.Coupon, error) {
	var (
		c            schema.Coupon
		isRedeemed   int
		createdAt    string
		lastModified string
		lastRetry    sql.NullString
	)

	err := row.Scan(
		&c.ID,
		&c.ProfileID,
		&c.Title,
		&c.BoltCost,
		&c.Category,
		&isRedeemed,
		&createdAt,
		&c.SyncStatus,
		&lastModified,
		&c.RetryCount,
		&lastRetry,
	)
	if err != nil {
		return nil, err
	}

	c.IsRedeemed = isRedeemed != 0
	c.CreatedAt = parseTime(createdAt)
	c.LastModified = parseTime(lastModified)
	c.LastRetry = nullStringToTime(lastRetry)

	return &c, nil
}
