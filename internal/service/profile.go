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

	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/schema"
	"github.com/voltakids/boltsync/internal/store"
)

// Profiles performs domain writes on child profiles.
type Profiles struct {
	base
}

// NewProfiles creates a profile service.
//
// If logger is nil, a default logger writing to stderr is used.
func NewProfiles(st *store.Store, backend remote.Backend, online ConnectivityProbe, logger *log.Logger) *Profiles {
	if logger == nil {
		logger = log.New(os.Stderr, "[profiles] ", log.LstdFlags)
	}
	return &Profiles{base{
		store:   st,
		backend: backend,
		online:  online,
		logger:  logger,
		now:     time.Now,
	}}
}

// CreateProfileInput holds the caller-supplied profile fields.
type CreateProfileInput struct {
	ChildName     string
	AvatarID      string
	SelectedBuddy string
	BoltBalance   int
}

// CreateProfile creates a profile locally and best-effort remotely.
//
// A nil userID creates a guest profile: guest data lives only locally
// until migration and is never queued for remote sync.
func (p *Profiles) CreateProfile(ctx context.Context, in CreateProfileInput, userID *string) (*schema.Profile, error) {
	online := p.online.IsOnline(ctx)

	prof := &schema.Profile{
		ID:            uuid.NewString(),
		UserID:        userID,
		ChildName:     in.ChildName,
		AvatarID:      in.AvatarID,
		SelectedBuddy: in.SelectedBuddy,
		BoltBalance:   in.BoltBalance,
		IsGuest:       userID == nil,
		SyncMeta: schema.SyncMeta{
			SyncStatus:   syncStatusFor(online),
			LastModified: p.now(),
		},
	}
	if prof.IsGuest {
		prof.SyncStatus = schema.SyncStatusPending
	}

	if err := p.store.UpsertProfile(ctx, prof); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	if !prof.IsGuest {
		p.pushUpsert(ctx, schema.TableProfiles, prof.ID, prof.RemoteRow())
	}

	return p.store.GetProfileByID(ctx, prof.ID)
}

// GetProfile looks up a profile by primary id or user id, local-first.
// On a local miss while online, it falls back to a remote lookup by the
// same disjunction and caches the result locally as synced.
func (p *Profiles) GetProfile(ctx context.Context, key string) (*schema.Profile, error) {
	prof, err := p.store.GetProfileByKey(ctx, key)
	if err == nil {
		return prof, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up profile %s: %w", key, err)
	}

	if !p.online.IsOnline(ctx) {
		return nil, fmt.Errorf("profile %s: %w", key, ErrNotFound)
	}

	row, err := p.backend.SelectOne(ctx, schema.TableProfiles, remote.OrEq(
		remote.Condition{Field: "id", Value: key},
		remote.Condition{Field: "user_id", Value: key},
	))
	if err != nil {
		if errors.Is(err, remote.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", key, ErrNotFound)
		}
		// Remote lookup failure degrades to not-found rather than
		// surfacing a transient error for a read.
		p.logger.Printf("Remote profile lookup for %s failed: %v", key, err)
		return nil, fmt.Errorf("profile %s: %w", key, ErrNotFound)
	}

	prof = profileFromRemoteRow(row, p.now())
	if err := p.store.UpsertProfile(ctx, prof); err != nil {
		return nil, fmt.Errorf("failed to cache remote profile %s: %w", prof.ID, err)
	}

	return prof, nil
}

// GetGuestProfile returns the single local guest profile.
func (p *Profiles) GetGuestProfile(ctx context.Context) (*schema.Profile, error) {
	prof, err := p.store.GetGuestProfile(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("guest profile: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up guest profile: %w", err)
	}
	return prof, nil
}

// MigrateGuestToUser flips a guest profile to an authenticated user.
// This is the only path that changes a record's guest identity.
func (p *Profiles) MigrateGuestToUser(ctx context.Context, guestID, userID string) (*schema.Profile, error) {
	prof, err := p.store.GetProfileByID(ctx, guestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", guestID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up profile %s: %w", guestID, err)
	}
	if !prof.IsGuest {
		return nil, validationErr("Profile is not a guest profile")
	}

	prof.IsGuest = false
	prof.UserID = &userID
	prof.SyncStatus = schema.SyncStatusPending
	prof.LastModified = p.now()

	if err := p.store.UpsertProfile(ctx, prof); err != nil {
		return nil, fmt.Errorf("failed to migrate profile %s: %w", guestID, err)
	}

	p.pushUpsert(ctx, schema.TableProfiles, prof.ID, prof.RemoteRow())

	return p.store.GetProfileByID(ctx, prof.ID)
}

// UpdateBoltBalance applies a balance delta (negative for spending) with
// read-modify-write semantics. Guest profiles never attempt remote sync
// for balance changes.
func (p *Profiles) UpdateBoltBalance(ctx context.Context, id string, delta int) (*schema.Profile, error) {
	prof, err := p.store.GetProfileByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up profile %s: %w", id, err)
	}

	newBalance := prof.BoltBalance + delta
	if err := p.store.UpdateBoltBalance(ctx, id, newBalance, schema.SyncStatusPending, p.now()); err != nil {
		return nil, fmt.Errorf("failed to update balance for %s: %w", id, err)
	}

	if !prof.IsGuest {
		p.pushUpdate(ctx, schema.TableProfiles, id, map[string]any{"bolt_balance": newBalance})
	}

	return p.store.GetProfileByID(ctx, id)
}

// profileFromRemoteRow maps a remote row to the local profile layout.
// Remote-originated records are never guest records.
func profileFromRemoteRow(row map[string]any, now time.Time) *schema.Profile {
	prof := &schema.Profile{
		ID:            stringField(row, "id"),
		ChildName:     stringField(row, "child_name"),
		AvatarID:      stringField(row, "avatar_id"),
		SelectedBuddy: stringField(row, "selected_buddy"),
		BoltBalance:   intField(row, "bolt_balance"),
		IsGuest:       false,
		SyncMeta: schema.SyncMeta{
			SyncStatus:   schema.SyncStatusSynced,
			LastModified: now,
		},
	}
	if uid := stringField(row, "user_id"); uid != "" {
		prof.UserID = &uid
	}
	return prof
}

func stringField(row map[string]any, name string) string {
	s, _ := row[name].(string)
	return s
}

func intField(row map[string]any, name string) int {
	switch v := row[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
