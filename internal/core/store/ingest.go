package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FileProcessed reports whether a bulk data file has already been ingested.
func (s *Store) FileProcessed(ctx context.Context, fileName string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var one int
	row := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM processed_files WHERE file_name = ?
	`, fileName)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("probe processed files: %w", err)
	}
	return true, nil
}

// MarkFileProcessed records a bulk data file as ingested. Reprocessing the
// same file is a no-op.
func (s *Store) MarkFileProcessed(ctx context.Context, fileName string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO processed_files (file_name, processed_at)
		VALUES (?, ?)
		ON CONFLICT(file_name) DO NOTHING
	`, fileName, s.now().Unix())
	if err != nil {
		return fmt.Errorf("mark file processed: %w", err)
	}
	return nil
}
