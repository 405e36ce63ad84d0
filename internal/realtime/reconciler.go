// Package realtime applies inbound change events from the remote backend
// to the local store.
//
// This path is independent of the sync engine's retry state: a
// remote-originated update always supersedes local state (remote wins on
// inbound reconciliation; local-origin pending writes win via the
// separate outbound path). Inbound rows are stamped synced with cleared
// retry accounting, and derived local fields the remote doesn't carry
// are forced to fixed values — remote records are never guest records.
package realtime

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/voltakids/boltsync/internal/remote"
	"github.com/voltakids/boltsync/internal/schema"
	"github.com/voltakids/boltsync/internal/store"
)

// Source is the inbound event stream, normally a remote.Channel.
type Source interface {
	Subscribe(ctx context.Context, fn func(ctx context.Context, ev remote.ChangeEvent)) error
}

// Reconciler applies inbound change events to the local store.
type Reconciler struct {
	store  *store.Store
	source Source
	logger *log.Logger
	now    func() time.Time
}

// New creates a reconciler.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, source Source, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconciler] ", log.LstdFlags)
	}
	return &Reconciler{
		store:  st,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Run subscribes to the source and applies events until ctx is
// cancelled. Cancelling ctx is the unsubscribe mechanism; in-flight
// writes are not aborted.
func (r *Reconciler) Run(ctx context.Context) error {
	return r.source.Subscribe(ctx, r.Apply)
}

// Apply handles a single inbound change event. Unknown tables and rows
// without an id are logged and skipped; apply failures are logged, since
// there is no caller to surface them to.
func (r *Reconciler) Apply(ctx context.Context, ev remote.ChangeEvent) {
	if !schema.KnownTable(ev.Table) {
		r.logger.Printf("WARNING: Ignoring change event for unknown table %q", ev.Table)
		return
	}

	switch ev.Type {
	case remote.ChangeInsert, remote.ChangeUpdate:
		row := r.mapInbound(ev.Table, ev.New)
		if row == nil {
			r.logger.Printf("WARNING: Ignoring %s event for %s without id", ev.Type, ev.Table)
			return
		}
		if err := r.store.ApplyRemoteRecord(ctx, ev.Table, row); err != nil {
			r.logger.Printf("WARNING: Failed to apply %s to %s: %v", ev.Type, ev.Table, err)
			return
		}
		r.logger.Printf("Applied %s %s/%v", ev.Type, ev.Table, row["id"])

	case remote.ChangeDelete:
		id, _ := ev.Old["id"].(string)
		if id == "" {
			r.logger.Printf("WARNING: Ignoring DELETE event for %s without id", ev.Table)
			return
		}
		if err := r.store.DeleteByID(ctx, ev.Table, id); err != nil {
			r.logger.Printf("WARNING: Failed to apply DELETE to %s/%s: %v", ev.Table, id, err)
			return
		}
		r.logger.Printf("Applied DELETE %s/%s", ev.Table, id)

	default:
		r.logger.Printf("WARNING: Ignoring change event with unknown type %q", ev.Type)
	}
}

// inboundDefaults fill NOT NULL local columns when an inbound record
// arrives partial. user_id stays absent (nullable).
var inboundDefaults = map[string]any{
	"child_name":       "",
	"avatar_id":        "",
	"selected_buddy":   "",
	"bolt_balance":     0,
	"profile_id":       "",
	"habit_id":         "",
	"status":           "",
	"duration_seconds": 0,
	"bolts_earned":     0,
	"completed_at":     "",
	"title":            "",
	"bolt_cost":        0,
	"category":         "",
	"is_redeemed":      0,
	"created_at":       "",
}

// mapInbound maps a remote record to the local column layout using the
// table's explicit remote column list, then stamps sync metadata and the
// forced derived fields. Returns nil if the record has no usable id.
func (r *Reconciler) mapInbound(table string, record map[string]any) map[string]any {
	id, _ := record["id"].(string)
	if id == "" {
		return nil
	}

	row := make(map[string]any)
	for _, col := range schema.RemoteColumns(table) {
		if v, ok := record[col]; ok && v != nil {
			row[col] = v
			continue
		}
		if d, ok := inboundDefaults[col]; ok {
			row[col] = d
		}
	}

	if table == schema.TableProfiles {
		row["is_guest"] = 0
	}
	if table == schema.TableCoupons {
		if b, ok := row["is_redeemed"].(bool); ok {
			if b {
				row["is_redeemed"] = 1
			} else {
				row["is_redeemed"] = 0
			}
		}
	}

	row["sync_status"] = schema.SyncStatusSynced
	row["retry_count"] = 0
	row["last_modified"] = r.now().Format(time.RFC3339)

	return row
}
