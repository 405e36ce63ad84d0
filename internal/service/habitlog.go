package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/voltakids/boltsync/internal/catalog"
	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/schema"
	"github.com/voltakids/boltsync/internal/store"
)

// HabitLogs performs domain writes on habit completion logs.
type HabitLogs struct {
	base
	profiles *Profiles
}

// NewHabitLogs creates a habit log service. Balance updates for
// successful missions are routed through the profile service.
func NewHabitLogs(st *store.Store, backend remote.Backend, online ConnectivityProbe, profiles *Profiles, logger *log.Logger) *HabitLogs {
	if logger == nil {
		logger = log.New(os.Stderr, "[habitlogs] ", log.LstdFlags)
	}
	return &HabitLogs{
		base: base{
			store:   st,
			backend: backend,
			online:  online,
			logger:  logger,
			now:     time.Now,
		},
		profiles: profiles,
	}
}

// LogCompletionInput holds the fields of a single mission attempt.
type LogCompletionInput struct {
	ProfileID       string
	HabitID         string
	Status          string
	DurationSeconds int
	BoltsEarned     int
}

// LogCompletion records one mission attempt locally and best-effort
// remotely. Logs owned by a guest profile stay local.
func (h *HabitLogs) LogCompletion(ctx context.Context, in LogCompletionInput) (*schema.HabitLog, error) {
	owner, err := h.ownerProfile(ctx, in.ProfileID)
	if err != nil {
		return nil, err
	}
	if _, ok := catalog.Lookup(in.HabitID); !ok {
		return nil, validationErr(fmt.Sprintf("Unknown habit %q", in.HabitID))
	}

	online := h.online.IsOnline(ctx)
	logEntry := &schema.HabitLog{
		ID:              uuid.NewString(),
		ProfileID:       in.ProfileID,
		HabitID:         in.HabitID,
		Status:          in.Status,
		DurationSeconds: in.DurationSeconds,
		BoltsEarned:     in.BoltsEarned,
		CompletedAt:     h.now(),
		SyncMeta: schema.SyncMeta{
			SyncStatus:   syncStatusFor(online),
			LastModified: h.now(),
		},
	}
	if owner.IsGuest {
		logEntry.SyncStatus = schema.SyncStatusPending
	}

	if err := h.store.UpsertHabitLog(ctx, logEntry); err != nil {
		return nil, fmt.Errorf("failed to log completion: %w", err)
	}

	if !owner.IsGuest {
		h.pushUpsert(ctx, schema.TableHabitsLog, logEntry.ID, logEntry.RemoteRow())
	}

	return h.store.GetHabitLog(ctx, logEntry.ID)
}

// LogMissionResult composes LogCompletion with a bolt balance update
// when the mission succeeded and earned bolts. The local balance update
// is independent of remote sync success.
func (h *HabitLogs) LogMissionResult(ctx context.Context, in LogCompletionInput) (*schema.HabitLog, error) {
	logEntry, err := h.LogCompletion(ctx, in)
	if err != nil {
		return nil, err
	}

	if in.Status == schema.HabitStatusSuccess && in.BoltsEarned > 0 {
		if _, err := h.profiles.UpdateBoltBalance(ctx, in.ProfileID, in.BoltsEarned); err != nil {
			return nil, fmt.Errorf("failed to award bolts for mission: %w", err)
		}
	}

	return logEntry, nil
}

// ListForProfile returns a profile's logs, newest first.
func (h *HabitLogs) ListForProfile(ctx context.Context, profileID string) ([]*schema.HabitLog, error) {
	return h.store.ListHabitLogs(ctx, profileID)
}

// ResetTodayProgress deletes all of today's logs for a profile, locally
// then best-effort remotely. The day boundary is computed in local
// wall-clock time, not UTC. Remote deletes that fail or happen offline
// are queued for replay like every other mutating operation.
func (h *HabitLogs) ResetTodayProgress(ctx context.Context, profileID string) (int, error) {
	owner, err := h.ownerProfile(ctx, profileID)
	if err != nil {
		return 0, err
	}

	now := h.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	ids, err := h.store.DeleteHabitLogsInRange(ctx, profileID, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to reset today's progress: %w", err)
	}

	if !owner.IsGuest {
		for _, id := range ids {
			h.pushDelete(ctx, schema.TableHabitsLog, id)
		}
	}

	return len(ids), nil
}

func (h *HabitLogs) ownerProfile(ctx context.Context, profileID string) (*schema.Profile, error) {
	owner, err := h.store.GetProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up profile %s: %w", profileID, err)
	}
	return owner, nil
}
