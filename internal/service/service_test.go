package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/schema"
	"github.com/voltakids/boltsync/internal/store"
)

// fakeProbe is a connectivity probe with a fixed answer.
type fakeProbe struct {
	online bool
}

func (f *fakeProbe) IsOnline(ctx context.Context) bool { return f.online }

// fakeBackend records remote calls and fails on demand.
type fakeBackend struct {
	mu        sync.Mutex
	fail      bool
	upserts   int
	updates   int
	deletes   int
	selectRow map[string]any
}

func (f *fakeBackend) Upsert(ctx context.Context, table string, row map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("backend unavailable")
	}
	f.upserts++
	return nil
}

func (f *fakeBackend) Update(ctx context.Context, table, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("backend unavailable")
	}
	f.updates++
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("backend unavailable")
	}
	f.deletes++
	return nil
}

func (f *fakeBackend) SelectOne(ctx context.Context, table string, filter remote.Filter) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	if f.selectRow == nil {
		return nil, remote.ErrNoRows
	}
	return f.selectRow, nil
}

func (f *fakeBackend) calls() (upserts, updates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts, f.updates, f.deletes
}

// fixture wires the three entity services over a temporary store.
type fixture struct {
	store    *store.Store
	backend  *fakeBackend
	probe    *fakeProbe
	profiles *Profiles
	habits   *HabitLogs
	coupons  *Coupons
}

func setup(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	backend := &fakeBackend{}
	probe := &fakeProbe{online: true}
	logger := log.New(os.Stderr, "[test] ", 0)

	profiles := NewProfiles(st, backend, probe, logger)
	return &fixture{
		store:    st,
		backend:  backend,
		probe:    probe,
		profiles: profiles,
		habits:   NewHabitLogs(st, backend, probe, profiles, logger),
		coupons:  NewCoupons(st, backend, probe, profiles, logger),
	}
}

func (f *fixture) createProfile(t *testing.T, userID *string) *schema.Profile {
	t.Helper()
	p, err := f.profiles.CreateProfile(context.Background(), CreateProfileInput{
		ChildName:     "Rex",
		AvatarID:      "bolt",
		SelectedBuddy: "zap",
		BoltBalance:   100,
	}, userID)
	if err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	return p
}

func (f *fixture) queueItems(t *testing.T) []*schema.QueueItem {
	t.Helper()
	items, err := f.store.ListQueueItems(context.Background())
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	return items
}

func TestCreateProfileOnline(t *testing.T) {
	f := setup(t)
	userID := "u-1"

	p := f.createProfile(t, &userID)

	if p.SyncStatus != schema.SyncStatusSynced {
		t.Errorf("expected synced after online create, got %q", p.SyncStatus)
	}
	if items := f.queueItems(t); len(items) != 0 {
		t.Errorf("expected empty queue after online create, got %d items", len(items))
	}
	if upserts, _, _ := f.backend.calls(); upserts != 1 {
		t.Errorf("expected 1 remote upsert, got %d", upserts)
	}
}

// Creating a profile offline must complete locally, land as pending, and
// leave exactly one replay item in the queue.
func TestCreateProfileOffline(t *testing.T) {
	f := setup(t)
	f.probe.online = false
	userID := "u-1"

	p := f.createProfile(t, &userID)

	if p.ChildName != "Rex" {
		t.Errorf("expected local write to succeed, got %+v", p)
	}
	if p.SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected pending after offline create, got %q", p.SyncStatus)
	}
	if p.RetryCount != 0 {
		t.Errorf("expected retry_count 0 on a fresh record, got %d", p.RetryCount)
	}

	items := f.queueItems(t)
	if len(items) != 1 {
		t.Fatalf("expected 1 queue item, got %d", len(items))
	}
	if items[0].TableName != schema.TableProfiles || items[0].Operation != schema.OpUpsert {
		t.Errorf("unexpected queue item %+v", items[0])
	}

	if upserts, _, _ := f.backend.calls(); upserts != 0 {
		t.Errorf("offline create must not touch the backend, got %d upserts", upserts)
	}
}

// A failing remote does not fail the operation and does not bump retry
// accounting; the engine owns retries.
func TestCreateProfileRemoteFailure(t *testing.T) {
	f := setup(t)
	f.backend.fail = true
	userID := "u-1"

	p := f.createProfile(t, &userID)

	if p.SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected pending after failed remote write, got %q", p.SyncStatus)
	}
	if p.RetryCount != 0 {
		t.Errorf("initial failure must not bump retry count, got %d", p.RetryCount)
	}
	if items := f.queueItems(t); len(items) != 1 {
		t.Errorf("expected 1 queue item after failed remote write, got %d", len(items))
	}
}

func TestCreateGuestProfileStaysLocal(t *testing.T) {
	f := setup(t)

	p := f.createProfile(t, nil)

	if !p.IsGuest {
		t.Fatal("expected a guest profile")
	}
	if p.SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected guest stored pending, got %q", p.SyncStatus)
	}
	if items := f.queueItems(t); len(items) != 0 {
		t.Errorf("guest create must not enqueue, got %d items", len(items))
	}
	if upserts, _, _ := f.backend.calls(); upserts != 0 {
		t.Errorf("guest create must not touch the backend, got %d upserts", upserts)
	}
}

func TestGetProfileRemoteFallback(t *testing.T) {
	f := setup(t)
	f.backend.selectRow = map[string]any{
		"id":             "p-remote",
		"user_id":        "u-9",
		"child_name":     "Nova",
		"avatar_id":      "star",
		"selected_buddy": "zip",
		"bolt_balance":   float64(40),
	}

	p, err := f.profiles.GetProfile(context.Background(), "u-9")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.ID != "p-remote" || p.BoltBalance != 40 {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.SyncStatus != schema.SyncStatusSynced {
		t.Errorf("remote-sourced profile should cache as synced, got %q", p.SyncStatus)
	}

	// Cached: a second lookup hits the local store.
	cached, err := f.store.GetProfileByID(context.Background(), "p-remote")
	if err != nil {
		t.Fatalf("expected remote profile cached locally: %v", err)
	}
	if cached.ChildName != "Nova" {
		t.Errorf("unexpected cached profile %+v", cached)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	f := setup(t)

	_, err := f.profiles.GetProfile(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Offline, a local miss is immediately not-found.
	f.probe.online = false
	_, err = f.profiles.GetProfile(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound offline, got %v", err)
	}
}

func TestMigrateGuestToUser(t *testing.T) {
	f := setup(t)
	guest := f.createProfile(t, nil)

	p, err := f.profiles.MigrateGuestToUser(context.Background(), guest.ID, "u-new")
	if err != nil {
		t.Fatalf("MigrateGuestToUser failed: %v", err)
	}
	if p.IsGuest {
		t.Error("expected migrated profile to be non-guest")
	}
	if p.UserID == nil || *p.UserID != "u-new" {
		t.Errorf("expected user_id u-new, got %v", p.UserID)
	}

	// Migration is the first time this record syncs.
	if upserts, _, _ := f.backend.calls(); upserts != 1 {
		t.Errorf("expected 1 remote upsert after migration, got %d", upserts)
	}

	// A non-guest cannot be migrated again.
	if _, err := f.profiles.MigrateGuestToUser(context.Background(), p.ID, "u-other"); err == nil {
		t.Error("expected validation error migrating a non-guest")
	}
}

func TestLogMissionResultAwardsBolts(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)

	logEntry, err := f.habits.LogMissionResult(context.Background(), LogCompletionInput{
		ProfileID:       p.ID,
		HabitID:         "brush_teeth",
		Status:          schema.HabitStatusSuccess,
		DurationSeconds: 120,
		BoltsEarned:     10,
	})
	if err != nil {
		t.Fatalf("LogMissionResult failed: %v", err)
	}
	if logEntry.BoltsEarned != 10 {
		t.Errorf("unexpected log %+v", logEntry)
	}

	after, err := f.profiles.GetProfile(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if after.BoltBalance != 110 {
		t.Errorf("expected balance 110 after award, got %d", after.BoltBalance)
	}
}

// The local balance award happens even when every remote call fails.
func TestLogMissionResultSurvivesRemoteFailure(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)
	f.backend.fail = true

	_, err := f.habits.LogMissionResult(context.Background(), LogCompletionInput{
		ProfileID:   p.ID,
		HabitID:     "brush_teeth",
		Status:      schema.HabitStatusSuccess,
		BoltsEarned: 10,
	})
	if err != nil {
		t.Fatalf("LogMissionResult failed: %v", err)
	}

	after, err := f.store.GetProfileByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if after.BoltBalance != 110 {
		t.Errorf("expected balance 110 despite remote failure, got %d", after.BoltBalance)
	}
	if after.SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected profile pending after failed remote update, got %q", after.SyncStatus)
	}

	logs, err := f.store.ListHabitLogs(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ListHabitLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].SyncStatus != schema.SyncStatusPending {
		t.Errorf("expected 1 pending log, got %+v", logs)
	}
}

func TestLogCompletionUnknownHabit(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)

	_, err := f.habits.LogCompletion(context.Background(), LogCompletionInput{
		ProfileID: p.ID,
		HabitID:   "juggle_chainsaws",
		Status:    schema.HabitStatusSuccess,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestLogCompletionUnknownProfile(t *testing.T) {
	f := setup(t)

	_, err := f.habits.LogCompletion(context.Background(), LogCompletionInput{
		ProfileID: "missing",
		HabitID:   "brush_teeth",
		Status:    schema.HabitStatusSuccess,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGuestHabitLogsNeverQueued(t *testing.T) {
	f := setup(t)
	guest := f.createProfile(t, nil)
	f.probe.online = false

	_, err := f.habits.LogCompletion(context.Background(), LogCompletionInput{
		ProfileID: guest.ID,
		HabitID:   "brush_teeth",
		Status:    schema.HabitStatusSuccess,
	})
	if err != nil {
		t.Fatalf("LogCompletion failed: %v", err)
	}

	if items := f.queueItems(t); len(items) != 0 {
		t.Errorf("guest log must not enqueue, got %d items", len(items))
	}
}

func TestResetTodayProgress(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)
	f.probe.online = false

	for i := 0; i < 2; i++ {
		if _, err := f.habits.LogCompletion(context.Background(), LogCompletionInput{
			ProfileID: p.ID,
			HabitID:   "brush_teeth",
			Status:    schema.HabitStatusSuccess,
		}); err != nil {
			t.Fatalf("LogCompletion failed: %v", err)
		}
	}

	deleted, err := f.habits.ResetTodayProgress(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ResetTodayProgress failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted logs, got %d", deleted)
	}

	logs, err := f.store.ListHabitLogs(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ListHabitLogs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no logs after reset, got %d", len(logs))
	}

	// Each deleted log leaves a DELETE replay item (plus the two earlier
	// offline upserts).
	var queuedDeletes int
	for _, item := range f.queueItems(t) {
		if item.Operation == schema.OpDelete && item.TableName == schema.TableHabitsLog {
			queuedDeletes++
		}
	}
	if queuedDeletes != 2 {
		t.Errorf("expected 2 queued deletes, got %d", queuedDeletes)
	}
}

func TestRedeemCoupon(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)

	coupon, err := f.coupons.CreateCoupon(context.Background(), CreateCouponInput{
		ProfileID: p.ID,
		Title:     "Movie night",
		BoltCost:  25,
		Category:  schema.CategoryPrivilege,
	})
	if err != nil {
		t.Fatalf("CreateCoupon failed: %v", err)
	}

	redeemed, err := f.coupons.RedeemCoupon(context.Background(), coupon.ID)
	if err != nil {
		t.Fatalf("RedeemCoupon failed: %v", err)
	}
	if !redeemed.IsRedeemed {
		t.Error("expected coupon redeemed")
	}

	after, err := f.store.GetProfileByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if after.BoltBalance != 75 {
		t.Errorf("expected balance 75 after redeem, got %d", after.BoltBalance)
	}
}

// An insufficient balance must leave both the coupon and the balance
// untouched.
func TestRedeemCouponInsufficientBolts(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)

	coupon, err := f.coupons.CreateCoupon(context.Background(), CreateCouponInput{
		ProfileID: p.ID,
		Title:     "Theme park",
		BoltCost:  500,
		Category:  schema.CategoryActivity,
	})
	if err != nil {
		t.Fatalf("CreateCoupon failed: %v", err)
	}

	_, err = f.coupons.RedeemCoupon(context.Background(), coupon.ID)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Reason != "Insufficient bolts" {
		t.Errorf("unexpected reason %q", verr.Reason)
	}

	after, err := f.store.GetProfileByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetProfileByID failed: %v", err)
	}
	if after.BoltBalance != 100 {
		t.Errorf("balance must be untouched, got %d", after.BoltBalance)
	}
	unredeemed, err := f.store.GetCoupon(context.Background(), coupon.ID)
	if err != nil {
		t.Fatalf("GetCoupon failed: %v", err)
	}
	if unredeemed.IsRedeemed {
		t.Error("coupon must be untouched")
	}
}

func TestRedeemCouponTwice(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)

	coupon, err := f.coupons.CreateCoupon(context.Background(), CreateCouponInput{
		ProfileID: p.ID,
		Title:     "Movie night",
		BoltCost:  25,
		Category:  schema.CategoryPrivilege,
	})
	if err != nil {
		t.Fatalf("CreateCoupon failed: %v", err)
	}
	if _, err := f.coupons.RedeemCoupon(context.Background(), coupon.ID); err != nil {
		t.Fatalf("first RedeemCoupon failed: %v", err)
	}

	_, err = f.coupons.RedeemCoupon(context.Background(), coupon.ID)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Reason != "Coupon already redeemed" {
		t.Errorf("unexpected reason %q", verr.Reason)
	}
}

func TestDeleteCouponQueuesRemoteDelete(t *testing.T) {
	f := setup(t)
	userID := "u-1"
	p := f.createProfile(t, &userID)

	coupon, err := f.coupons.CreateCoupon(context.Background(), CreateCouponInput{
		ProfileID: p.ID,
		Title:     "Movie night",
		BoltCost:  25,
		Category:  schema.CategoryPrivilege,
	})
	if err != nil {
		t.Fatalf("CreateCoupon failed: %v", err)
	}

	f.probe.online = false
	if err := f.coupons.DeleteCoupon(context.Background(), coupon.ID); err != nil {
		t.Fatalf("DeleteCoupon failed: %v", err)
	}

	if _, err := f.coupons.GetCoupon(context.Background(), coupon.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected coupon gone, got %v", err)
	}

	items := f.queueItems(t)
	if len(items) != 1 || items[0].Operation != schema.OpDelete {
		t.Errorf("expected a single queued delete, got %+v", items)
	}
}
