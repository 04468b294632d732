package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/mot"
)

// Cached records older than this many whole elapsed days are treated as
// misses. Day-granularity on purpose: a record refreshed 23h59m ago is
// fresh, one refreshed 24h01m ago is stale.
const defaultStaleAfterDays = 1

func isStale(lastUpdated, now time.Time, staleAfterDays int) bool {
	return int(now.Sub(lastUpdated).Hours()/24) >= staleAfterDays
}

func (s *Store) staleDays() int {
	if s != nil && s.StaleAfterDays > 0 {
		return s.StaleAfterDays
	}
	return defaultStaleAfterDays
}

// Exists reports whether any record is cached for the registration,
// regardless of staleness. No counters are touched.
func (s *Store) Exists(ctx context.Context, registration string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var one int
	row := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM vehicle_cache WHERE registration = ?
	`, registration)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("probe vehicle cache: %w", err)
	}
	return true, nil
}

// Get returns the cached vehicle if present and fresh, or nil. A fresh hit
// increments the request counter and touches last_requested before
// returning. Stale records stay in place for the next upsert to overwrite.
func (s *Store) Get(ctx context.Context, registration string) (*core.Vehicle, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin vehicle read: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	vehicle, err := scanVehicle(tx.QueryRowContext(ctx, selectVehicleSQL, registration))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached vehicle: %w", err)
	}

	now := s.now()
	if isStale(vehicle.LastUpdated, now, s.staleDays()) {
		return nil, nil
	}

	vehicle.RequestCount++
	vehicle.LastRequested = now
	_, err = tx.ExecContext(ctx, `
		UPDATE vehicle_cache SET request_count = ?, last_requested = ?
		WHERE registration = ?
	`, vehicle.RequestCount, now.Unix(), registration)
	if err != nil {
		return nil, fmt.Errorf("touch cached vehicle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vehicle read: %w", err)
	}
	return vehicle, nil
}

// Upsert writes fresh upstream data for a registration. A new record
// starts with request_count 1; an existing one keeps any cached field the
// draft does not supply, merges MOT history by completed date, and bumps
// the counter. Returns the stored record.
func (s *Store) Upsert(ctx context.Context, registration string, draft *core.VehicleDraft) (*core.Vehicle, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if draft == nil {
		return nil, errors.New("vehicle draft is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin vehicle upsert: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	now := s.now()

	existing, err := scanVehicle(tx.QueryRowContext(ctx, selectVehicleSQL, registration))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch cached vehicle: %w", err)
	}

	var next *core.Vehicle
	if existing == nil {
		next = &core.Vehicle{
			Registration: registration,
			MotTests:     mot.MergeTestHistory(nil, draft.MotTests),
			RequestCount: 1,
		}
		applyDraft(next, draft)
	} else {
		next = existing
		applyDraft(next, draft)
		next.MotTests = mot.MergeTestHistory(existing.MotTests, draft.MotTests)
		next.RequestCount++
	}
	next.LastUpdated = now
	next.LastRequested = now

	motData, err := json.Marshal(next.MotTests)
	if err != nil {
		return nil, fmt.Errorf("encode mot history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vehicle_cache (
			registration, make, model, first_used_date, fuel_type,
			primary_colour, registration_date, manufacture_date, engine_size,
			year_of_manufacture, co2_emissions, tax_status, tax_due_date,
			mot_status, mot_expiry_date, mot_data,
			last_updated, last_requested, request_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(registration) DO UPDATE SET
			make = excluded.make,
			model = excluded.model,
			first_used_date = excluded.first_used_date,
			fuel_type = excluded.fuel_type,
			primary_colour = excluded.primary_colour,
			registration_date = excluded.registration_date,
			manufacture_date = excluded.manufacture_date,
			engine_size = excluded.engine_size,
			year_of_manufacture = excluded.year_of_manufacture,
			co2_emissions = excluded.co2_emissions,
			tax_status = excluded.tax_status,
			tax_due_date = excluded.tax_due_date,
			mot_status = excluded.mot_status,
			mot_expiry_date = excluded.mot_expiry_date,
			mot_data = excluded.mot_data,
			last_updated = excluded.last_updated,
			last_requested = excluded.last_requested,
			request_count = excluded.request_count
	`, next.Registration, next.Make, next.Model, next.FirstUsedDate,
		next.FuelType, next.PrimaryColour, next.RegistrationDate,
		next.ManufactureDate, next.EngineSize, next.YearOfManufacture,
		next.CO2Emissions, next.TaxStatus, next.TaxDueDate, next.MotStatus,
		next.MotExpiryDate, string(motData),
		next.LastUpdated.Unix(), next.LastRequested.Unix(), next.RequestCount)
	if err != nil {
		return nil, fmt.Errorf("store vehicle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vehicle upsert: %w", err)
	}
	return next, nil
}

// RequestCount returns the current counter for a registration, 0 if no
// record exists. Read-only.
func (s *Store) RequestCount(ctx context.Context, registration string) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count FROM vehicle_cache WHERE registration = ?
	`, registration)
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetch request count: %w", err)
	}
	return count, nil
}

// RecordAccess bumps the request counter and touches last_requested
// without altering cached fields. For code paths that observe a record
// outside Get/Upsert, so each access is counted exactly once.
func (s *Store) RecordAccess(ctx context.Context, registration string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE vehicle_cache
		SET request_count = request_count + 1, last_requested = ?
		WHERE registration = ?
	`, s.now().Unix(), registration)
	if err != nil {
		return fmt.Errorf("record vehicle access: %w", err)
	}
	return nil
}

const selectVehicleSQL = `
	SELECT registration, make, model, first_used_date, fuel_type,
		primary_colour, registration_date, manufacture_date, engine_size,
		year_of_manufacture, co2_emissions, tax_status, tax_due_date,
		mot_status, mot_expiry_date, mot_data,
		last_updated, last_requested, request_count
	FROM vehicle_cache
	WHERE registration = ?
`

func scanVehicle(row *sql.Row) (*core.Vehicle, error) {
	var (
		v                 core.Vehicle
		makeName          sql.NullString
		model             sql.NullString
		firstUsed         sql.NullString
		fuelType          sql.NullString
		colour            sql.NullString
		regDate           sql.NullString
		manufactureDate   sql.NullString
		engineSize        sql.NullInt64
		yearOfManufacture sql.NullInt64
		co2               sql.NullInt64
		taxStatus         sql.NullString
		taxDueDate        sql.NullString
		motStatus         sql.NullString
		motExpiry         sql.NullString
		motData           sql.NullString
		lastUpdated       int64
		lastRequested     int64
	)

	err := row.Scan(&v.Registration, &makeName, &model, &firstUsed,
		&fuelType, &colour, &regDate, &manufactureDate, &engineSize,
		&yearOfManufacture, &co2, &taxStatus, &taxDueDate, &motStatus,
		&motExpiry, &motData, &lastUpdated, &lastRequested, &v.RequestCount)
	if err != nil {
		return nil, err
	}

	v.Make = makeName.String
	v.Model = model.String
	v.FirstUsedDate = firstUsed.String
	v.FuelType = fuelType.String
	v.PrimaryColour = colour.String
	v.RegistrationDate = regDate.String
	v.ManufactureDate = manufactureDate.String
	v.EngineSize = int(engineSize.Int64)
	v.YearOfManufacture = int(yearOfManufacture.Int64)
	v.CO2Emissions = int(co2.Int64)
	v.TaxStatus = taxStatus.String
	v.TaxDueDate = taxDueDate.String
	v.MotStatus = motStatus.String
	v.MotExpiryDate = motExpiry.String
	v.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	v.LastRequested = time.Unix(lastRequested, 0).UTC()

	if motData.Valid && motData.String != "" {
		if err := json.Unmarshal([]byte(motData.String), &v.MotTests); err != nil {
			return nil, fmt.Errorf("decode mot history: %w", err)
		}
	}

	return &v, nil
}

func applyDraft(v *core.Vehicle, draft *core.VehicleDraft) {
	if draft.Make != "" {
		v.Make = draft.Make
	}
	if draft.Model != "" {
		v.Model = draft.Model
	}
	if draft.FirstUsedDate != "" {
		v.FirstUsedDate = draft.FirstUsedDate
	}
	if draft.FuelType != "" {
		v.FuelType = draft.FuelType
	}
	if draft.PrimaryColour != "" {
		v.PrimaryColour = draft.PrimaryColour
	}
	if draft.RegistrationDate != "" {
		v.RegistrationDate = draft.RegistrationDate
	}
	if draft.ManufactureDate != "" {
		v.ManufactureDate = draft.ManufactureDate
	}
	if draft.EngineSize != nil {
		v.EngineSize = *draft.EngineSize
	}
	if draft.YearOfManufacture != nil {
		v.YearOfManufacture = *draft.YearOfManufacture
	}
	if draft.CO2Emissions != nil {
		v.CO2Emissions = *draft.CO2Emissions
	}
	if draft.TaxStatus != "" {
		v.TaxStatus = draft.TaxStatus
	}
	if draft.TaxDueDate != "" {
		v.TaxDueDate = draft.TaxDueDate
	}
	if draft.MotStatus != "" {
		v.MotStatus = draft.MotStatus
	}
	if draft.MotExpiryDate != "" {
		v.MotExpiryDate = draft.MotExpiryDate
	}
}
