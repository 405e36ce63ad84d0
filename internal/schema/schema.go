// Package schema defines the entities tracked by the offline-first sync core:
// child profiles, habit completion logs, reward coupons, and the explicit
// sync queue used to replay non-idempotent operations.
//
// Every syncable entity carries the same sync metadata: a sync status
// (synced or pending), a last-modified timestamp, a retry counter, and the
// time of the most recent retry. The local store is the durable source of
// truth; the remote backend is an eventually-consistent mirror, so these
// fields exist only locally and are stripped before any remote write.
package schema

import (
	"fmt"
	"time"
)

// Sync statuses for syncable records.
const (
	SyncStatusSynced  = "synced"
	SyncStatusPending = "pending"
)

// Queue item statuses.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusFailed     = "failed"
)

// Queue operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpUpsert = "UPSERT"
)

// Core table names, in the fixed order the sync engine processes them.
const (
	TableProfiles  = "profiles"
	TableHabitsLog = "habits_log"
	TableCoupons   = "coupons"
)

// Tables returns the core syncable tables in processing order.
func Tables() []string {
	return []string{TableProfiles, TableHabitsLog, TableCoupons}
}

// Habit log statuses.
const (
	HabitStatusSuccess = "success"
	HabitStatusSleepy  = "sleepy"
)

// Coupon categories.
const (
	CategoryPhysical  = "Physical"
	CategoryPrivilege = "Privilege"
	CategoryActivity  = "Activity"
)

// SyncMeta holds the per-record sync-tracking columns shared by all
// syncable entities.
type SyncMeta struct {
	SyncStatus   string
	LastModified time.Time
	RetryCount   int
	LastRetry    *time.Time
}

// Profile is a child profile. A profile with a nil UserID is a guest
// profile: it lives only in the local store and is never synced until
// migrated to an authenticated user.
type Profile struct {
	ID            string
	UserID        *string
	ChildName     string
	AvatarID      string
	SelectedBuddy string
	BoltBalance   int
	IsGuest       bool
	SyncMeta
}

// Validate checks required fields.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.ChildName == "" {
		return fmt.Errorf("profile child_name is required")
	}
	if p.IsGuest != (p.UserID == nil) {
		return fmt.Errorf("profile is_guest must match user_id nullability")
	}
	return nil
}

// RemoteRow returns the row shape sent to the remote backend.
// Sync-tracking columns and the locally-derived is_guest flag are
// stripped: remote rows never represent guest profiles.
func (p *Profile) RemoteRow() map[string]any {
	row := map[string]any{
		"id":             p.ID,
		"child_name":     p.ChildName,
		"avatar_id":      p.AvatarID,
		"selected_buddy": p.SelectedBuddy,
		"bolt_balance":   p.BoltBalance,
	}
	if p.UserID != nil {
		row["user_id"] = *p.UserID
	}
	return row
}

// HabitLog records a single mission attempt. Logs are immutable after
// creation except for sync-status transitions.
type HabitLog struct {
	ID              string
	ProfileID       string
	HabitID         string
	Status          string
	DurationSeconds int
	BoltsEarned     int
	CompletedAt     time.Time
	SyncMeta
}

// Validate checks required fields and the status domain.
func (l *HabitLog) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("habit log id is required")
	}
	if l.ProfileID == "" {
		return fmt.Errorf("habit log profile_id is required")
	}
	if l.HabitID == "" {
		return fmt.Errorf("habit log habit_id is required")
	}
	if l.Status != HabitStatusSuccess && l.Status != HabitStatusSleepy {
		return fmt.Errorf("habit log status must be %q or %q, got %q",
			HabitStatusSuccess, HabitStatusSleepy, l.Status)
	}
	return nil
}

// RemoteRow returns the row shape sent to the remote backend.
func (l *HabitLog) RemoteRow() map[string]any {
	return map[string]any{
		"id":               l.ID,
		"profile_id":       l.ProfileID,
		"habit_id":         l.HabitID,
		"status":           l.Status,
		"duration_seconds": l.DurationSeconds,
		"bolts_earned":     l.BoltsEarned,
		"completed_at":     l.CompletedAt.Format(time.RFC3339),
	}
}

// Coupon is a parent-created reward. IsRedeemed is monotonic false→true.
type Coupon struct {
	ID         string
	ProfileID  string
	Title      string
	BoltCost   int
	Category   string
	IsRedeemed bool
	CreatedAt  time.Time
	SyncMeta
}

// Validate checks required fields, cost positivity, and the category domain.
func (c *Coupon) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("coupon id is required")
	}
	if c.ProfileID == "" {
		return fmt.Errorf("coupon profile_id is required")
	}
	if c.Title == "" {
		return fmt.Errorf("coupon title is required")
	}
	if c.BoltCost <= 0 {
		return fmt.Errorf("coupon bolt_cost must be positive, got %d", c.BoltCost)
	}
	switch c.Category {
	case CategoryPhysical, CategoryPrivilege, CategoryActivity:
	default:
		return fmt.Errorf("coupon category must be one of %q, %q, %q, got %q",
			CategoryPhysical, CategoryPrivilege, CategoryActivity, c.Category)
	}
	return nil
}

// RemoteRow returns the row shape sent to the remote backend.
// is_redeemed is a real boolean on the wire regardless of how the local
// store represents it.
func (c *Coupon) RemoteRow() map[string]any {
	return map[string]any{
		"id":          c.ID,
		"profile_id":  c.ProfileID,
		"title":       c.Title,
		"bolt_cost":   c.BoltCost,
		"category":    c.Category,
		"is_redeemed": c.IsRedeemed,
		"created_at":  c.CreatedAt.Format(time.RFC3339),
	}
}

// QueueItem is an explicit replay entry for operations that are not safely
// re-derivable from a pending flag alone (deletes, partial updates).
type QueueItem struct {
	ID         int64
	TableName  string
	Operation  string
	Data       string
	Status     string
	RetryCount int
	LastRetry  *time.Time
	CreatedAt  time.Time
}

// remoteColumns lists the columns each core table exposes on the remote
// backend. Queue payloads and inbound realtime records are validated
// against these lists.
var remoteColumns = map[string][]string{
	TableProfiles:  {"id", "user_id", "child_name", "avatar_id", "selected_buddy", "bolt_balance"},
	TableHabitsLog: {"id", "profile_id", "habit_id", "status", "duration_seconds", "bolts_earned", "completed_at"},
	TableCoupons:   {"id", "profile_id", "title", "bolt_cost", "category", "is_redeemed", "created_at"},
}

// RemoteColumns returns the remote column list for a core table, or nil
// for an unknown table.
func RemoteColumns(table string) []string {
	return remoteColumns[table]
}

// KnownTable reports whether table is one of the core syncable tables.
func KnownTable(table string) bool {
	_, ok := remoteColumns[table]
	return ok
}
