// Package engine reconciles locally-pending records with the remote
// backend.
//
// Two channels feed the engine: pending-marked rows in the core tables
// (re-derivable upserts) and the explicit sync queue (deletes and partial
// updates that a pending flag alone cannot reconstruct). Both follow the
// same retry policy: at most MaxRetries automatic attempts per record,
// spaced by exponential backoff. A record that exhausts its budget is
// excluded from automatic retry and raises the aggregate sync-error
// signal on the connectivity oracle; only an explicit administrative
// reset returns it to the cycle.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/schema"
	"github.com/voltakids/boltsync/internal/store"
)

const (
	// MaxRetries caps automatic retry attempts per record.
	MaxRetries = 3

	// BaseDelay seeds the exponential backoff:
	// delay = BaseDelay * 2^(retry_count-1).
	BaseDelay = 30 * time.Second
)

// Oracle is the connectivity surface the engine needs: the reachability
// gate and the sync-error signal.
type Oracle interface {
	IsOnline(ctx context.Context) bool
	SetSyncError(v bool)
}

// Engine drives outbound synchronization.
type Engine struct {
	store   *store.Store
	backend remote.Backend
	oracle  Oracle
	logger  *log.Logger
	now     func() time.Time

	inFlight atomic.Bool
}

// New creates a sync engine.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	eng := engine.New(st, backendClient, oracle, nil)
//	if err := eng.ProcessQueue(ctx); err != nil {
//	    return err
//	}
func New(st *store.Store, backend remote.Backend, oracle Oracle, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:   st,
		backend: backend,
		oracle:  oracle,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessQueue runs one full reconciliation pass: pending core-table
// records first (profiles, habits_log, coupons in fixed order), then the
// explicit sync queue oldest-first, then the failure sweep that drives
// the sync-error signal.
//
// ProcessQueue is reentrancy-guarded: a call arriving while another is
// in flight is dropped, not deferred, so periodic and
// connectivity-triggered callers must tolerate silent no-ops.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer e.inFlight.Store(false)

	if !e.oracle.IsOnline(ctx) {
		return nil
	}

	// Cleared optimistically; the failure sweep below re-raises it if
	// stuck records remain.
	e.oracle.SetSyncError(false)

	e.syncPendingChanges(ctx)
	e.processSyncQueue(ctx)

	return e.checkSyncFailures(ctx)
}

// eligible applies the backoff policy. A record is unconditionally
// eligible on its first attempt.
func (e *Engine) eligible(retryCount int, lastRetry *time.Time) bool {
	if retryCount == 0 || lastRetry == nil {
		return true
	}
	delay := BaseDelay * (1 << (retryCount - 1))
	return e.now().Sub(*lastRetry) >= delay
}

// syncPendingChanges replays pending core-table records as remote
// upserts. One record's failure never aborts the batch.
func (e *Engine) syncPendingChanges(ctx context.Context) {
	for _, rec := range e.pendingRecords(ctx) {
		if !e.eligible(rec.retryCount, rec.lastRetry) {
			continue
		}

		if err := e.backend.Upsert(ctx, rec.table, rec.row); err != nil {
			e.logger.Printf("WARNING: Failed to sync %s/%s: %v", rec.table, rec.id, err)
			if err := e.store.BumpRetry(ctx, rec.table, rec.id, e.now()); err != nil {
				e.logger.Printf("WARNING: Failed to record retry for %s/%s: %v", rec.table, rec.id, err)
			}
			continue
		}

		if err := e.store.MarkSynced(ctx, rec.table, rec.id); err != nil {
			e.logger.Printf("WARNING: Failed to mark %s/%s synced: %v", rec.table, rec.id, err)
			continue
		}
		e.logger.Printf("Synced %s/%s", rec.table, rec.id)
	}
}

// pendingRecord is a core-table row due for outbound sync, flattened to
// its remote shape.
type pendingRecord struct {
	table      string
	id         string
	row        map[string]any
	retryCount int
	lastRetry  *time.Time
}

// pendingRecords collects pending rows across the core tables in fixed
// processing order. Selection failures are logged and the remaining
// tables still run.
func (e *Engine) pendingRecords(ctx context.Context) []pendingRecord {
	var records []pendingRecord

	profiles, err := e.store.PendingProfiles(ctx, MaxRetries)
	if err != nil {
		e.logger.Printf("WARNING: Failed to select pending profiles: %v", err)
	}
	for _, p := range profiles {
		records = append(records, pendingRecord{
			table: schema.TableProfiles, id: p.ID, row: p.RemoteRow(),
			retryCount: p.RetryCount, lastRetry: p.LastRetry,
		})
	}

	logs, err := e.store.PendingHabitLogs(ctx, MaxRetries)
	if err != nil {
		e.logger.Printf("WARNING: Failed to select pending habit logs: %v", err)
	}
	for _, l := range logs {
		records = append(records, pendingRecord{
			table: schema.TableHabitsLog, id: l.ID, row: l.RemoteRow(),
			retryCount: l.RetryCount, lastRetry: l.LastRetry,
		})
	}

	coupons, err := e.store.PendingCoupons(ctx, MaxRetries)
	if err != nil {
		e.logger.Printf("WARNING: Failed to select pending coupons: %v", err)
	}
	for _, c := range coupons {
		records = append(records, pendingRecord{
			table: schema.TableCoupons, id: c.ID, row: c.RemoteRow(),
			retryCount: c.RetryCount, lastRetry: c.LastRetry,
		})
	}

	return records
}

// processSyncQueue replays explicit queue items oldest-first. An
// undecodable payload is a poison pill: the item is permanently marked
// failed and removed from the retry cycle rather than retried.
func (e *Engine) processSyncQueue(ctx context.Context) {
	items, err := e.store.PendingQueueItems(ctx, MaxRetries)
	if err != nil {
		e.logger.Printf("WARNING: Failed to select sync queue: %v", err)
		return
	}

	for _, item := range items {
		if !e.eligible(item.RetryCount, item.LastRetry) {
			continue
		}

		payload, err := schema.DecodePayload(item.TableName, []byte(item.Data))
		if err != nil {
			e.logger.Printf("WARNING: Poison queue item %d (%s %s): %v",
				item.ID, item.Operation, item.TableName, err)
			if err := e.store.MarkQueueItemFailed(ctx, item.ID); err != nil {
				e.logger.Printf("WARNING: Failed to sideline queue item %d: %v", item.ID, err)
			}
			continue
		}

		if err := e.dispatch(ctx, item.Operation, payload); err != nil {
			e.logger.Printf("WARNING: Failed to replay queue item %d (%s %s/%s): %v",
				item.ID, item.Operation, item.TableName, payload.ID, err)
			if err := e.store.BumpQueueRetry(ctx, item.ID, e.now()); err != nil {
				e.logger.Printf("WARNING: Failed to record retry for queue item %d: %v", item.ID, err)
			}
			continue
		}

		if err := e.store.DeleteQueueItem(ctx, item.ID); err != nil {
			e.logger.Printf("WARNING: Failed to remove replayed queue item %d: %v", item.ID, err)
			continue
		}
		e.logger.Printf("Replayed %s %s/%s", item.Operation, item.TableName, payload.ID)
	}
}

// dispatch routes a decoded queue payload to the matching backend call.
func (e *Engine) dispatch(ctx context.Context, op string, payload *schema.Payload) error {
	switch op {
	case schema.OpInsert, schema.OpUpsert:
		return e.backend.Upsert(ctx, payload.Table, payload.Fields)
	case schema.OpUpdate:
		return e.backend.Update(ctx, payload.Table, payload.ID, payload.UpdateFields())
	case schema.OpDelete:
		return e.backend.Delete(ctx, payload.Table, payload.ID)
	default:
		return fmt.Errorf("unknown queue operation %q", op)
	}
}

// checkSyncFailures raises the aggregate sync-error signal when any
// record anywhere has exhausted its retry budget, and clears it
// otherwise.
func (e *Engine) checkSyncFailures(ctx context.Context) error {
	stuck, err := e.store.StuckCount(ctx, MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to check sync failures: %w", err)
	}

	if stuck > 0 {
		e.logger.Printf("%d record(s) exhausted their retry budget", stuck)
	}
	e.oracle.SetSyncError(stuck > 0)

	return nil
}

// ResetRecordRetries returns a stuck core-table record to the retry
// cycle. Administrative action; the next ProcessQueue picks it up.
func (e *Engine) ResetRecordRetries(ctx context.Context, table, id string) error {
	return e.store.ResetRetries(ctx, table, id)
}

// ResetQueueItemRetries returns a stuck or failed queue item to the
// retry cycle. Administrative action.
func (e *Engine) ResetQueueItemRetries(ctx context.Context, id int64) error {
	return e.store.ResetQueueRetries(ctx, id)
}

// Stats summarizes sync state for status reporting.
type Stats struct {
	Tables     []store.SyncCounts
	QueueDepth int
	Stuck      int
}

// Stats reports per-table sync counts, queue depth, and the stuck total.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	tables, queueDepth, err := e.store.CountSyncState(ctx, MaxRetries)
	if err != nil {
		return nil, err
	}
	stuck, err := e.store.StuckCount(ctx, MaxRetries)
	if err != nil {
		return nil, err
	}
	return &Stats{Tables: tables, QueueDepth: queueDepth, Stuck: stuck}, nil
}
