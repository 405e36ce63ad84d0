// Package remote defines the interface to the remote row-oriented backend
// and provides a REST client plus a websocket realtime channel for it.
//
// The backend is an eventually-consistent mirror of the local store. All
// row writes are idempotent upserts keyed by primary id, which is what
// makes the sync engine's retry loop and the 10-second call timeout safe:
// a timed-out call that later completes server-side does no harm.
package remote

import (
	"context"
	"errors"
)

// ErrNoRows is returned by SelectOne when no row matches the filter.
var ErrNoRows = errors.New("remote: no rows in result")

// Condition is a single field equality test.
type Condition struct {
	Field string
	Value string
}

// Filter selects rows for SelectOne. Eq conditions are ANDed; Or
// conditions form a single ORed disjunction (id.eq.X OR user_id.eq.X).
type Filter struct {
	Eq []Condition
	Or []Condition
}

// Eq builds a single-equality filter.
func Eq(field, value string) Filter {
	return Filter{Eq: []Condition{{Field: field, Value: value}}}
}

// OrEq builds a disjunction filter over the given conditions.
func OrEq(conds ...Condition) Filter {
	return Filter{Or: conds}
}

// Backend is the row-oriented remote API the sync core writes to.
//
// Upsert must be keyed by primary id and safe to call with partial or
// full rows. All methods honor context cancellation; implementations
// apply a bounded per-call timeout and report a timeout as an ordinary
// error.
type Backend interface {
	// Upsert inserts or overwrites a row keyed by its id column.
	Upsert(ctx context.Context, table string, row map[string]any) error

	// Update applies a partial field update to the row with the given id.
	Update(ctx context.Context, table, id string, fields map[string]any) error

	// Delete removes the row with the given id. Deleting a missing row
	// is not an error.
	Delete(ctx context.Context, table, id string) error

	// SelectOne returns the first row matching the filter, or ErrNoRows.
	SelectOne(ctx context.Context, table string, f Filter) (map[string]any, error)
}

// ChangeType identifies the kind of inbound change event.
type ChangeType string

// Inbound change event types.
const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a single inbound change notification from the remote
// backend's realtime channel.
type ChangeEvent struct {
	Table string         `json:"table"`
	Type  ChangeType     `json:"event_type"`
	New   map[string]any `json:"new,omitempty"`
	Old   map[string]any `json:"old,omitempty"`
}
