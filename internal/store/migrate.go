package store

import (
	"context"
	"fmt"
)

// syncColumns are the sync-tracking columns every core table carries.
// Older installs created these tables without sync tracking; ensureSchema
// adds any that are missing.
var syncColumns = []struct {
	name string
	def  string
}{
	{"sync_status", "TEXT NOT NULL DEFAULT 'pending'"},
	{"last_modified", "TEXT NOT NULL DEFAULT ''"},
	{"retry_count", "INTEGER NOT NULL DEFAULT 0"},
	{"last_retry", "TEXT"},
}

// coreTables are the tables subject to sync-column migration.
var coreTables = []string{"profiles", "habits_log", "coupons"}

// ensureSchema creates all tables and applies additive column migrations.
// Safe to run on every start regardless of prior schema state.
func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		child_name TEXT NOT NULL,
		avatar_id TEXT NOT NULL DEFAULT '',
		selected_buddy TEXT NOT NULL DEFAULT '',
		bolt_balance INTEGER NOT NULL DEFAULT 0,
		is_guest INTEGER NOT NULL DEFAULT 0,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		last_modified TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry TEXT
	);

	CREATE TABLE IF NOT EXISTS habits_log (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		habit_id TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		bolts_earned INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		last_modified TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry TEXT
	);

	CREATE TABLE IF NOT EXISTS coupons (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		title TEXT NOT NULL,
		bolt_cost INTEGER NOT NULL,
		category TEXT NOT NULL,
		is_redeemed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		last_modified TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		operation TEXT NOT NULL,
		data TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry TEXT,
		created_at TEXT NOT NULL
	);

	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Column migration runs before index creation: the sync-state
	// indexes reference columns a legacy table may not have yet.
	for _, table := range coreTables {
		if err := s.migrateSyncColumns(ctx, table); err != nil {
			return err
		}
	}

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_profiles_user ON profiles(user_id);
	CREATE INDEX IF NOT EXISTS idx_profiles_sync ON profiles(sync_status, retry_count);
	CREATE INDEX IF NOT EXISTS idx_habits_log_profile ON habits_log(profile_id);
	CREATE INDEX IF NOT EXISTS idx_habits_log_completed ON habits_log(profile_id, completed_at);
	CREATE INDEX IF NOT EXISTS idx_habits_log_sync ON habits_log(sync_status, retry_count);
	CREATE INDEX IF NOT EXISTS idx_coupons_profile ON coupons(profile_id);
	CREATE INDEX IF NOT EXISTS idx_coupons_sync ON coupons(sync_status, retry_count);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, retry_count);
	`
	if _, err := s.conn.ExecContext(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// migrateSyncColumns adds any sync-tracking column missing from an
// existing table. Additive only; existing data is untouched.
func (s *Store) migrateSyncColumns(ctx context.Context, table string) error {
	existing, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	for _, col := range syncColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.def)
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
		}
	}

	return nil
}

// tableColumns returns the set of column names on a table.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column info for %s: %w", table, err)
	}

	return cols, nil
}
