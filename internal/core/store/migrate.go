package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS vehicle_cache (
		registration TEXT PRIMARY KEY,
		make TEXT,
		model TEXT,
		first_used_date TEXT,
		fuel_type TEXT,
		primary_colour TEXT,
		registration_date TEXT,
		manufacture_date TEXT,
		engine_size INTEGER,
		year_of_manufacture INTEGER,
		co2_emissions INTEGER,
		tax_status TEXT,
		tax_due_date TEXT,
		mot_status TEXT,
		mot_expiry_date TEXT,
		mot_data TEXT,
		last_updated INTEGER NOT NULL,
		last_requested INTEGER NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		registration TEXT,
		requester_ip TEXT,
		user_agent TEXT,
		referrer TEXT,
		cf_country TEXT,
		cf_region TEXT,
		cf_city TEXT,
		cf_timezone TEXT,
		cf_isp TEXT,
		local_timezone TEXT,
		headers TEXT,
		query_time REAL,
		is_cached INTEGER,
		requested_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_registration ON request_logs(registration);`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_requested_at ON request_logs(requested_at);`,
	`CREATE TABLE IF NOT EXISTS processed_files (
		file_name TEXT PRIMARY KEY,
		processed_at INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	// first_used_date arrived after the initial schema shipped.
	if err := s.ensureColumn(ctx, "vehicle_cache", "first_used_date", "TEXT"); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}
