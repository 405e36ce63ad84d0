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

// Coupons performs domain writes on parent-created reward coupons.
type Coupons struct {
	base
	profiles *Profiles
}

// NewCoupons creates a coupon service. Redemption deducts bolts through
// the profile service.
func NewCoupons(st *store.Store, backend remote.Backend, online ConnectivityProbe, profiles *Profiles, logger *log.Logger) *Coupons {
	if logger == nil {
		logger = log.New(os.Stderr, "[coupons] ", log.LstdFlags)
	}
	return &Coupons{
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

// CreateCouponInput holds the caller-supplied coupon fields.
type CreateCouponInput struct {
	ProfileID string
	Title     string
	BoltCost  int
	Category  string
}

// CreateCoupon creates a coupon locally and best-effort remotely.
func (c *Coupons) CreateCoupon(ctx context.Context, in CreateCouponInput) (*schema.Coupon, error) {
	owner, err := c.ownerProfile(ctx, in.ProfileID)
	if err != nil {
		return nil, err
	}

	online := c.online.IsOnline(ctx)
	coupon := &schema.Coupon{
		ID:        uuid.NewString(),
		ProfileID: in.ProfileID,
		Title:     in.Title,
		BoltCost:  in.BoltCost,
		Category:  in.Category,
		CreatedAt: c.now(),
		SyncMeta: schema.SyncMeta{
			SyncStatus:   syncStatusFor(online),
			LastModified: c.now(),
		},
	}
	if owner.IsGuest {
		coupon.SyncStatus = schema.SyncStatusPending
	}

	if err := c.store.UpsertCoupon(ctx, coupon); err != nil {
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	if !owner.IsGuest {
		c.pushUpsert(ctx, schema.TableCoupons, coupon.ID, coupon.RemoteRow())
	}

	return c.store.GetCoupon(ctx, coupon.ID)
}

// GetCoupon retrieves a coupon by id.
func (c *Coupons) GetCoupon(ctx context.Context, id string) (*schema.Coupon, error) {
	coupon, err := c.store.GetCoupon(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("coupon %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up coupon %s: %w", id, err)
	}
	return coupon, nil
}

// ListForProfile returns a profile's coupons, newest first.
func (c *Coupons) ListForProfile(ctx context.Context, profileID string) ([]*schema.Coupon, error) {
	return c.store.ListCoupons(ctx, profileID)
}

// RedeemCoupon marks a coupon redeemed and deducts its cost from the
// owning profile's bolt balance. The balance check happens before any
// mutation: an insufficient balance leaves both the coupon and the
// balance untouched.
func (c *Coupons) RedeemCoupon(ctx context.Context, id string) (*schema.Coupon, error) {
	coupon, err := c.GetCoupon(ctx, id)
	if err != nil {
		return nil, err
	}
	if coupon.IsRedeemed {
		return nil, validationErr("Coupon already redeemed")
	}

	owner, err := c.ownerProfile(ctx, coupon.ProfileID)
	if err != nil {
		return nil, err
	}
	if owner.BoltBalance < coupon.BoltCost {
		return nil, validationErr("Insufficient bolts")
	}

	if _, err := c.profiles.UpdateBoltBalance(ctx, owner.ID, -coupon.BoltCost); err != nil {
		return nil, fmt.Errorf("failed to deduct bolts for coupon %s: %w", id, err)
	}

	fields := map[string]any{"is_redeemed": true}
	if err := c.store.UpdateCouponFields(ctx, id, fields, schema.SyncStatusPending, c.now()); err != nil {
		return nil, fmt.Errorf("failed to mark coupon %s redeemed: %w", id, err)
	}

	if !owner.IsGuest {
		c.pushUpdate(ctx, schema.TableCoupons, id, fields)
	}

	return c.store.GetCoupon(ctx, id)
}

// UpdateCoupon applies an administrative partial update by field name.
// Field names follow the remote column layout (title, bolt_cost,
// category, is_redeemed).
func (c *Coupons) UpdateCoupon(ctx context.Context, id string, fields map[string]any) (*schema.Coupon, error) {
	coupon, err := c.GetCoupon(ctx, id)
	if err != nil {
		return nil, err
	}

	owner, err := c.ownerProfile(ctx, coupon.ProfileID)
	if err != nil {
		return nil, err
	}

	if err := c.store.UpdateCouponFields(ctx, id, fields, schema.SyncStatusPending, c.now()); err != nil {
		return nil, fmt.Errorf("failed to update coupon %s: %w", id, err)
	}

	if !owner.IsGuest {
		c.pushUpdate(ctx, schema.TableCoupons, id, fields)
	}

	return c.store.GetCoupon(ctx, id)
}

// DeleteCoupon removes a coupon locally and best-effort remotely.
func (c *Coupons) DeleteCoupon(ctx context.Context, id string) error {
	coupon, err := c.GetCoupon(ctx, id)
	if err != nil {
		return err
	}

	owner, err := c.ownerProfile(ctx, coupon.ProfileID)
	if err != nil {
		return err
	}

	if err := c.store.DeleteCoupon(ctx, id); err != nil {
		return fmt.Errorf("failed to delete coupon %s: %w", id, err)
	}

	if !owner.IsGuest {
		c.pushDelete(ctx, schema.TableCoupons, id)
	}

	return nil
}

func (c *Coupons) ownerProfile(ctx context.Context, profileID string) (*schema.Profile, error) {
	owner, err := c.store.GetProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up profile %s: %w", profileID, err)
	}
	return owner, nil
}
