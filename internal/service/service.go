// Package service implements the entity services for profiles, habit
// logs, and coupons.
//
// Every mutating operation follows the same local-first pattern: the
// write completes against the local store before any remote attempt, and
// a failed or skipped remote attempt degrades the record to pending
// and/or enqueues an explicit replay item instead of surfacing an error.
// Only NotFound and Validation errors cross the service boundary.
//
// Conflict policy is last-write-wins: outbound sync overwrites remote
// state with local pending data, and the realtime reconciler overwrites
// local state with remote data. Concurrent multi-device edits to the
// same record can silently lose one side's update; acceptable for this
// single-writer-per-profile domain.
package service

import (
	"context"
	"log"
	"time"

	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/schema"
	"github.com/voltakids/boltsync/internal/store"
)

// ConnectivityProbe reports current reachability. Fail-closed: a probe
// that cannot complete reports offline.
type ConnectivityProbe interface {
	IsOnline(ctx context.Context) bool
}

// base holds the collaborators shared by all entity services.
type base struct {
	store   *store.Store
	backend remote.Backend
	online  ConnectivityProbe
	logger  *log.Logger
	now     func() time.Time
}

// syncStatusFor computes the entry sync status for a fresh write.
func syncStatusFor(online bool) string {
	if online {
		return schema.SyncStatusSynced
	}
	return schema.SyncStatusPending
}

// enqueue appends a replay item for the given operation. Enqueue
// failures are logged, not propagated: the record stays pending, so the
// engine's table scan still covers upserts, and nothing actionable can
// be surfaced to the caller for queue-only operations.
func (b *base) enqueue(ctx context.Context, table, op string, fields map[string]any) {
	data, err := schema.EncodePayload(fields)
	if err != nil {
		b.logger.Printf("Warning: failed to encode queue payload for %s %s: %v", op, table, err)
		return
	}

	item := &schema.QueueItem{
		TableName: table,
		Operation: op,
		Data:      data,
		Status:    schema.QueueStatusPending,
		CreatedAt: b.now(),
	}
	if _, err := b.store.Enqueue(ctx, item); err != nil {
		b.logger.Printf("Warning: failed to enqueue %s %s: %v", op, table, err)
	}
}

// pushUpsert attempts a best-effort remote upsert for a record already
// persisted locally. Offline or on failure, the row is queued for
// replay; the initial failure does not touch retry accounting — only the
// sync engine's later retries do.
func (b *base) pushUpsert(ctx context.Context, table, id string, row map[string]any) {
	if !b.online.IsOnline(ctx) {
		b.enqueue(ctx, table, schema.OpUpsert, row)
		return
	}

	// The remote attempt is not atomic with the local write, so the
	// record is re-marked pending before anything that can fail.
	if err := b.store.MarkPending(ctx, table, id); err != nil {
		b.logger.Printf("Warning: failed to mark %s/%s pending: %v", table, id, err)
	}

	if err := b.backend.Upsert(ctx, table, row); err != nil {
		b.logger.Printf("Remote upsert of %s/%s failed, queued for sync: %v", table, id, err)
		b.enqueue(ctx, table, schema.OpUpsert, row)
		return
	}

	if err := b.store.MarkSynced(ctx, table, id); err != nil {
		b.logger.Printf("Warning: failed to mark %s/%s synced: %v", table, id, err)
	}
}

// pushUpdate is pushUpsert for partial field updates.
func (b *base) pushUpdate(ctx context.Context, table, id string, fields map[string]any) {
	payload := make(map[string]any, len(fields)+1)
	for name, value := range fields {
		payload[name] = value
	}
	payload["id"] = id

	if !b.online.IsOnline(ctx) {
		b.enqueue(ctx, table, schema.OpUpdate, payload)
		return
	}

	if err := b.store.MarkPending(ctx, table, id); err != nil {
		b.logger.Printf("Warning: failed to mark %s/%s pending: %v", table, id, err)
	}

	if err := b.backend.Update(ctx, table, id, fields); err != nil {
		b.logger.Printf("Remote update of %s/%s failed, queued for sync: %v", table, id, err)
		b.enqueue(ctx, table, schema.OpUpdate, payload)
		return
	}

	if err := b.store.MarkSynced(ctx, table, id); err != nil {
		b.logger.Printf("Warning: failed to mark %s/%s synced: %v", table, id, err)
	}
}

// pushDelete attempts a best-effort remote delete. The local row is
// already gone, so the delete is only re-derivable from the queue.
func (b *base) pushDelete(ctx context.Context, table, id string) {
	if !b.online.IsOnline(ctx) {
		b.enqueue(ctx, table, schema.OpDelete, map[string]any{"id": id})
		return
	}

	if err := b.backend.Delete(ctx, table, id); err != nil {
		b.logger.Printf("Remote delete of %s/%s failed, queued for sync: %v", table, id, err)
		b.enqueue(ctx, table, schema.OpDelete, map[string]any{"id": id})
	}
}
