package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voltakids/boltsync/internal/schema"
)

// setupTestStore creates a temporary, initialized store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	return st
}

func testProfile(id string, userID *string) *schema.Profile {
	return &schema.Profile{
		ID:            id,
		UserID:        userID,
		ChildName:     "Rex",
		AvatarID:      "bolt",
		SelectedBuddy: "zap",
		BoltBalance:   100,
		IsGuest:       userID == nil,
		SyncMeta: schema.SyncMeta{
			SyncStatus:   schema.SyncStatusPending,
			LastModified: time.Now().UTC(),
		},
	}
}

func testHabitLog(id, profileID string) *schema.HabitLog {
	return &schema.HabitLog{
		ID:              id,
		ProfileID:       profileID,
		HabitID:         "brush_teeth",
		Status:          schema.HabitStatusSuccess,
		DurationSeconds: 120,
		BoltsEarned:     10,
		CompletedAt:     time.Now().UTC(),
		SyncMeta: schema.SyncMeta{
			SyncStatus:   schema.SyncStatusPending,
			LastModified: time.Now().UTC(),
		},
	}
}

func testCoupon(id, profileID string) *schema.Coupon {
	return &schema.Coupon{
		ID:        id,
		ProfileID: profileID,
		Title:     "Movie night",
		BoltCost:  25,
		Category:  schema.CategoryPrivilege,
		CreatedAt: time.Now().UTC(),
		SyncMeta: schema.SyncMeta{
			SyncStatus:   schema.SyncStatusPending,
			LastModified: time.Now().UTC(),
		},
	}
}

func TestInitIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.Init(ctx); err != nil {
			t.Fatalf("Init run %d failed: %v", i+1, err)
		}
	}
}

func TestInitConcurrent(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	defer st.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.Init(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Init failed: %v", err)
		}
	}
}

// TestMigrateLegacySchema verifies that tables created before sync
// tracking existed gain the sync columns on Init.
func TestMigrateLegacySchema(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	defer st.Close()

	legacy := `
	CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		child_name TEXT NOT NULL,
		avatar_id TEXT NOT NULL DEFAULT '',
		selected_buddy TEXT NOT NULL DEFAULT '',
		bolt_balance INTEGER NOT NULL DEFAULT 0,
		is_guest INTEGER NOT NULL DEFAULT 0
	);
	INSERT INTO profiles (id, child_name) VALUES ('p-old', 'Rex');
	`
	if _, err := st.RawDB().Exec(legacy); err != nil {
		t.Fatalf("failed to create legacy schema: %v", err)
	}

	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init on legacy schema failed: %v", err)
	}

	p, err := st.GetProfileByID(ctx, "p-old")
	if err != nil {
		t.Fatalf("GetProfileByID after migration failed: %v", err)
	}
	if p.SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected migrated row to default to pending, got %q", p.SyncStatus)
	}
	if p.RetryCount != 0 {
		t.Errorf("expected migrated retry_count 0, got %d", p.RetryCount)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	userID := "u-1"
	want := testProfile("p-1", &userID)
	if err := st.UpsertProfile(ctx, want); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	got, err := st.GetProfileByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if got.ChildName != "Rex" || got.BoltBalance != 100 {
		t.Errorf("unexpected profile: %+v", got)
	}
	if got.UserID == nil || *got.UserID != "u-1" {
		t.Errorf("expected user_id u-1, got %v", got.UserID)
	}
	if got.IsGuest {
		t.Error("expected non-guest profile")
	}

	// Lookup by either id or user_id.
	byUser, err := st.GetProfileByKey(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetProfileByKey(user id) failed: %v", err)
	}
	if byUser.ID != "p-1" {
		t.Errorf("expected p-1, got %s", byUser.ID)
	}
}

func TestUpsertProfileRejectsInvalid(t *testing.T) {
	st := setupTestStore(t)

	bad := testProfile("p-1", nil)
	bad.IsGuest = false // contradicts nil user id
	if err := st.UpsertProfile(context.Background(), bad); err == nil {
		t.Error("UpsertProfile accepted an invalid profile")
	}
}

func TestGetGuestProfile(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.GetGuestProfile(ctx); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows with no guest, got %v", err)
	}

	if err := st.UpsertProfile(ctx, testProfile("p-guest", nil)); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	g, err := st.GetGuestProfile(ctx)
	if err != nil {
		t.Fatalf("GetGuestProfile failed: %v", err)
	}
	if g.ID != "p-guest" || !g.IsGuest {
		t.Errorf("unexpected guest profile: %+v", g)
	}
}

func TestUpdateBoltBalance(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	userID := "u-1"
	if err := st.UpsertProfile(ctx, testProfile("p-1", &userID)); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	if err := st.UpdateBoltBalance(ctx, "p-1", 150, schema.SyncStatusPending, time.Now()); err != nil {
		t.Fatalf("UpdateBoltBalance failed: %v", err)
	}

	p, err := st.GetProfileByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if p.BoltBalance != 150 {
		t.Errorf("expected balance 150, got %d", p.BoltBalance)
	}
	if p.SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected pending after balance update, got %q", p.SyncStatus)
	}
}

// TestPendingProfilesExcludesGuests verifies guest profiles never appear
// in the outbound sync selection even though they are stored pending.
func TestPendingProfilesExcludesGuests(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	userID := "u-1"
	if err := st.UpsertProfile(ctx, testProfile("p-user", &userID)); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if err := st.UpsertProfile(ctx, testProfile("p-guest", nil)); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	pending, err := st.PendingProfiles(ctx, 3)
	if err != nil {
		t.Fatalf("PendingProfiles failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "p-user" {
		t.Errorf("expected only p-user pending, got %+v", pending)
	}
}

func TestPendingExcludesExhaustedRetries(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	userID := "u-1"
	if err := st.UpsertProfile(ctx, testProfile("p-1", &userID)); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := st.BumpRetry(ctx, schema.TableProfiles, "p-1", time.Now()); err != nil {
			t.Fatalf("BumpRetry failed: %v", err)
		}
	}

	pending, err := st.PendingProfiles(ctx, 3)
	if err != nil {
		t.Fatalf("PendingProfiles failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending profiles at retry cap, got %d", len(pending))
	}

	stuck, err := st.StuckCount(ctx, 3)
	if err != nil {
		t.Fatalf("StuckCount failed: %v", err)
	}
	if stuck != 1 {
		t.Errorf("expected 1 stuck record, got %d", stuck)
	}
}

func TestMarkSyncedClearsRetryState(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	userID := "u-1"
	if err := st.UpsertProfile(ctx, testProfile("p-1", &userID)); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if err := st.BumpRetry(ctx, schema.TableProfiles, "p-1", time.Now()); err != nil {
		t.Fatalf("BumpRetry failed: %v", err)
	}
	if err := st.MarkSynced(ctx, schema.TableProfiles, "p-1"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	p, err := st.GetProfileByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if p.SyncStatus != schema.SyncStatusSynced {
		t.Errorf("expected synced, got %q", p.SyncStatus)
	}
	if p.RetryCount != 0 || p.LastRetry != nil {
		t.Errorf("expected retry state cleared, got count=%d lastRetry=%v", p.RetryCount, p.LastRetry)
	}
}

func TestHabitLogListNewestFirst(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	older := testHabitLog("h-1", "p-1")
	older.CompletedAt = time.Now().Add(-2 * time.Hour)
	newer := testHabitLog("h-2", "p-1")

	for _, l := range []*schema.HabitLog{older, newer} {
		if err := st.UpsertHabitLog(ctx, l); err != nil {
			t.Fatalf("UpsertHabitLog failed: %v", err)
		}
	}

	logs, err := st.ListHabitLogs(ctx, "p-1")
	if err != nil {
		t.Fatalf("ListHabitLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].ID != "h-2" {
		t.Errorf("expected newest log first, got %s", logs[0].ID)
	}
}

func TestDeleteHabitLogsInRange(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	today := testHabitLog("h-today", "p-1")
	today.CompletedAt = now
	yesterday := testHabitLog("h-yesterday", "p-1")
	yesterday.CompletedAt = now.Add(-24 * time.Hour)
	otherProfile := testHabitLog("h-other", "p-2")
	otherProfile.CompletedAt = now

	for _, l := range []*schema.HabitLog{today, yesterday, otherProfile} {
		if err := st.UpsertHabitLog(ctx, l); err != nil {
			t.Fatalf("UpsertHabitLog failed: %v", err)
		}
	}

	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	deleted, err := st.DeleteHabitLogsInRange(ctx, "p-1", start, end)
	if err != nil {
		t.Fatalf("DeleteHabitLogsInRange failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "h-today" {
		t.Errorf("expected [h-today] deleted, got %v", deleted)
	}

	if _, err := st.GetHabitLog(ctx, "h-yesterday"); err != nil {
		t.Errorf("yesterday's log should survive: %v", err)
	}
	if _, err := st.GetHabitLog(ctx, "h-other"); err != nil {
		t.Errorf("other profile's log should survive: %v", err)
	}
	if _, err := st.GetHabitLog(ctx, "h-today"); err != sql.ErrNoRows {
		t.Errorf("expected h-today gone, got %v", err)
	}
}

// Inbound rows may carry completed_at in any offset; stored values are
// normalized to UTC so the range comparison stays chronological.
func TestDeleteHabitLogsInRangeMixedOffsets(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	local := testHabitLog("h-local", "p-1")
	local.CompletedAt = base.In(time.FixedZone("AEST", 10*3600))
	if err := st.UpsertHabitLog(ctx, local); err != nil {
		t.Fatalf("UpsertHabitLog failed: %v", err)
	}

	// Same instant as base+30m, written the way a remote event arrives.
	row := map[string]any{
		"id":               "h-remote",
		"profile_id":       "p-1",
		"habit_id":         "brush_teeth",
		"status":           schema.HabitStatusSuccess,
		"duration_seconds": 0,
		"bolts_earned":     5,
		"completed_at":     "2026-09-01T17:30:00+05:00",
		"sync_status":      schema.SyncStatusSynced,
		"last_modified":    base.Format(time.RFC3339),
		"retry_count":      0,
	}
	if err := st.ApplyRemoteRecord(ctx, schema.TableHabitsLog, row); err != nil {
		t.Fatalf("ApplyRemoteRecord failed: %v", err)
	}

	start := base.Add(-time.Hour).In(time.FixedZone("CEST", 2*3600))
	end := base.Add(time.Hour).In(time.FixedZone("CEST", 2*3600))
	deleted, err := st.DeleteHabitLogsInRange(ctx, "p-1", start, end)
	if err != nil {
		t.Fatalf("DeleteHabitLogsInRange failed: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected both logs deleted regardless of offset, got %v", deleted)
	}
}

func TestUpdateCouponFields(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.UpsertCoupon(ctx, testCoupon("c-1", "p-1")); err != nil {
		t.Fatalf("UpsertCoupon failed: %v", err)
	}

	err := st.UpdateCouponFields(ctx, "c-1",
		map[string]any{"is_redeemed": true}, schema.SyncStatusPending, time.Now())
	if err != nil {
		t.Fatalf("UpdateCouponFields failed: %v", err)
	}

	c, err := st.GetCoupon(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCoupon failed: %v", err)
	}
	if !c.IsRedeemed {
		t.Error("expected coupon redeemed")
	}

	// Columns outside the updatable set are rejected.
	err = st.UpdateCouponFields(ctx, "c-1",
		map[string]any{"profile_id": "p-2"}, schema.SyncStatusPending, time.Now())
	if err == nil {
		t.Error("UpdateCouponFields accepted a non-updatable column")
	}
}

func TestQueueLifecycle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first := &schema.QueueItem{
		TableName: schema.TableCoupons,
		Operation: schema.OpDelete,
		Data:      `{"id":"c-1"}`,
		CreatedAt: time.Now().Add(-time.Minute),
	}
	second := &schema.QueueItem{
		TableName: schema.TableCoupons,
		Operation: schema.OpDelete,
		Data:      `{"id":"c-2"}`,
		CreatedAt: time.Now(),
	}

	id1, err := st.Enqueue(ctx, first)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := st.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := st.PendingQueueItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(items))
	}
	if items[0].ID != id1 {
		t.Errorf("expected oldest item first, got id %d", items[0].ID)
	}
	if items[0].Status != schema.QueueStatusPending {
		t.Errorf("expected default pending status, got %q", items[0].Status)
	}

	if err := st.DeleteQueueItem(ctx, id1); err != nil {
		t.Fatalf("DeleteQueueItem failed: %v", err)
	}
	items, err = st.PendingQueueItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 pending item after delete, got %d", len(items))
	}
}

func TestQueueRetryAccounting(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	item := &schema.QueueItem{
		TableName: schema.TableProfiles,
		Operation: schema.OpUpsert,
		Data:      `{"id":"p-1","child_name":"Rex"}`,
		CreatedAt: time.Now(),
	}
	id, err := st.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := st.BumpQueueRetry(ctx, id, time.Now()); err != nil {
			t.Fatalf("BumpQueueRetry failed: %v", err)
		}
	}

	items, err := st.PendingQueueItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no eligible items at retry cap, got %d", len(items))
	}

	n, err := st.ResetAllQueueRetries(ctx)
	if err != nil {
		t.Fatalf("ResetAllQueueRetries failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reset item, got %d", n)
	}

	items, err = st.PendingQueueItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 1 || items[0].RetryCount != 0 {
		t.Errorf("expected item back in cycle with retry 0, got %+v", items)
	}
}

func TestMarkQueueItemFailed(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	id, err := st.Enqueue(ctx, &schema.QueueItem{
		TableName: schema.TableCoupons,
		Operation: schema.OpDelete,
		Data:      `not json`,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := st.MarkQueueItemFailed(ctx, id); err != nil {
		t.Fatalf("MarkQueueItemFailed failed: %v", err)
	}

	items, err := st.PendingQueueItems(ctx, 3)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("failed item should not be pending, got %d items", len(items))
	}

	stuck, err := st.StuckCount(ctx, 3)
	if err != nil {
		t.Fatalf("StuckCount failed: %v", err)
	}
	if stuck != 0 {
		t.Errorf("sidelined item must not count toward the sync-error signal, got %d", stuck)
	}
}

func TestCountSyncState(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	userID := "u-1"
	p := testProfile("p-1", &userID)
	p.SyncStatus = schema.SyncStatusSynced
	if err := st.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if err := st.UpsertCoupon(ctx, testCoupon("c-1", "p-1")); err != nil {
		t.Fatalf("UpsertCoupon failed: %v", err)
	}

	counts, queueDepth, err := st.CountSyncState(ctx, 3)
	if err != nil {
		t.Fatalf("CountSyncState failed: %v", err)
	}
	if queueDepth != 0 {
		t.Errorf("expected empty queue, got depth %d", queueDepth)
	}

	byTable := make(map[string]SyncCounts)
	for _, c := range counts {
		byTable[c.Table] = c
	}
	if c := byTable[schema.TableProfiles]; c.Total != 1 || c.Pending != 0 {
		t.Errorf("unexpected profile counts: %+v", c)
	}
	if c := byTable[schema.TableCoupons]; c.Total != 1 || c.Pending != 1 {
		t.Errorf("unexpected coupon counts: %+v", c)
	}
}

func TestApplyRemoteRecord(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	row := map[string]any{
		"id":             "p-1",
		"user_id":        "u-1",
		"child_name":     "Rex",
		"avatar_id":      "bolt",
		"selected_buddy": "zap",
		"bolt_balance":   75,
		"is_guest":       0,
		"sync_status":    schema.SyncStatusSynced,
		"last_modified":  time.Now().UTC().Format(time.RFC3339),
		"retry_count":    0,
	}
	if err := st.ApplyRemoteRecord(ctx, schema.TableProfiles, row); err != nil {
		t.Fatalf("ApplyRemoteRecord failed: %v", err)
	}

	p, err := st.GetProfileByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if p.SyncStatus != schema.SyncStatusSynced {
		t.Errorf("expected synced, got %q", p.SyncStatus)
	}
	if p.BoltBalance != 75 {
		t.Errorf("expected balance 75, got %d", p.BoltBalance)
	}

	// Replace semantics: a second apply with the same id wins wholesale.
	row["bolt_balance"] = 90
	if err := st.ApplyRemoteRecord(ctx, schema.TableProfiles, row); err != nil {
		t.Fatalf("second ApplyRemoteRecord failed: %v", err)
	}
	p, err = st.GetProfileByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if p.BoltBalance != 90 {
		t.Errorf("expected balance 90 after replace, got %d", p.BoltBalance)
	}
}

func TestDeleteByID(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.UpsertCoupon(ctx, testCoupon("c-1", "p-1")); err != nil {
		t.Fatalf("UpsertCoupon failed: %v", err)
	}
	if err := st.DeleteByID(ctx, schema.TableCoupons, "c-1"); err != nil {
		t.Fatalf("DeleteByID failed: %v", err)
	}
	if _, err := st.GetCoupon(ctx, "c-1"); err != sql.ErrNoRows {
		t.Errorf("expected coupon gone, got %v", err)
	}
}
