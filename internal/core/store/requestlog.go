package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/regspy/regspy/internal/core"
)

// LogRequest appends one audit row for an inbound lookup. Rows are
// write-only telemetry and are never updated or deleted.
func (s *Store) LogRequest(ctx context.Context, entry *core.RequestLog) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if entry == nil {
		return errors.New("request log entry is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("encode request headers: %w", err)
	}

	requestedAt := entry.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.now()
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO request_logs (
			registration, requester_ip, user_agent, referrer,
			cf_country, cf_region, cf_city, cf_timezone, cf_isp,
			local_timezone, headers, query_time, is_cached, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Registration, entry.RequesterIP, entry.UserAgent,
		entry.Referrer, entry.CFCountry, entry.CFRegion, entry.CFCity,
		entry.CFTimezone, entry.CFISP, entry.LocalTimezone, string(headers),
		entry.QueryTime.Seconds(), entry.Cached, requestedAt.Unix())
	if err != nil {
		return fmt.Errorf("store request log: %w", err)
	}
	return nil
}

// RequestLogCount reports how many audit rows exist for a registration.
func (s *Store) RequestLogCount(ctx context.Context, registration string) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_logs WHERE registration = ?
	`, registration)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return count, nil
}
