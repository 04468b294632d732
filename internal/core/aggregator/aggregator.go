// Package aggregator combines the two upstream vehicle APIs into one
// canonical draft record.
package aggregator

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/upstream"
	"github.com/regspy/regspy/internal/metrics"
)

// VESLookup is the registration-lookup dependency.
type VESLookup interface {
	Lookup(ctx context.Context, registration string) (*upstream.VESResponse, error)
}

// MOTHistory is the MOT test-history dependency.
type MOTHistory interface {
	History(ctx context.Context, registration string) (*upstream.MOTResponse, error)
}

// Aggregator fetches registration data and MOT history and merges them.
// The enquiry service is authoritative for whether the vehicle exists; the
// MOT API is treated as the fresher source for any field both return.
type Aggregator struct {
	VES    VESLookup
	MOT    MOTHistory
	Logger *logging.Logger
}

// Fetch builds a draft record for the registration. A failed registration
// lookup fails the whole aggregation with its typed error. A failed MOT
// call only costs the test history: identity data is worth returning on
// its own, and the two APIs go down independently.
func (a *Aggregator) Fetch(ctx context.Context, registration string) (*core.VehicleDraft, error) {
	if a == nil || a.VES == nil {
		return nil, errors.New("aggregator is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ves, err := a.VES.Lookup(ctx, registration)
	metrics.RecordUpstreamCall("ves", err == nil)
	if err != nil {
		return nil, err
	}

	draft := &core.VehicleDraft{
		Registration:      registration,
		Make:              ves.Make,
		PrimaryColour:     ves.Colour,
		FuelType:          ves.FuelType,
		EngineSize:        ves.EngineCapacity,
		CO2Emissions:      ves.CO2Emissions,
		YearOfManufacture: ves.YearOfManufacture,
		TaxStatus:         ves.TaxStatus,
		TaxDueDate:        ves.TaxDueDate,
		MotStatus:         ves.MotStatus,
		MotExpiryDate:     ves.MotExpiryDate,
		MotTests:          []core.MotTest{},
	}

	if a.MOT == nil {
		return draft, nil
	}

	history, err := a.MOT.History(ctx, registration)
	metrics.RecordUpstreamCall("mot", err == nil)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("MOT history unavailable, continuing without tests",
				zap.String("registration", registration),
				zap.Error(err))
		}
		return draft, nil
	}

	overlayHistory(draft, history)
	return draft, nil
}

func overlayHistory(draft *core.VehicleDraft, history *upstream.MOTResponse) {
	if history == nil {
		return
	}

	if history.Make != "" {
		draft.Make = history.Make
	}
	if history.Model != "" {
		draft.Model = history.Model
	}
	if history.FirstUsedDate != "" {
		draft.FirstUsedDate = history.FirstUsedDate
	}
	if history.FuelType != "" {
		draft.FuelType = history.FuelType
	}
	if history.PrimaryColour != "" {
		draft.PrimaryColour = history.PrimaryColour
	}
	if history.RegistrationDate != "" {
		draft.RegistrationDate = history.RegistrationDate
	}
	if history.ManufactureDate != "" {
		draft.ManufactureDate = history.ManufactureDate
	}
	if history.EngineSize != nil {
		draft.EngineSize = history.EngineSize
	}
	if len(history.MotTests) > 0 {
		draft.MotTests = history.MotTests
	}
}
