package core

import (
	"strings"
	"time"
	"unicode"
)

// Defect is a single advisory, minor, major, or dangerous item recorded
// during an MOT test.
type Defect struct {
	Text      string `json:"text"`
	Type      string `json:"type,omitempty"`
	Dangerous bool   `json:"dangerous,omitempty"`
}

// MotTest is an immutable snapshot of one completed MOT test. Tests are
// keyed by CompletedDate within a vehicle; two records with the same
// completed date describe the same test.
type MotTest struct {
	CompletedDate string   `json:"completedDate"`
	TestResult    string   `json:"testResult,omitempty"`
	ExpiryDate    string   `json:"expiryDate,omitempty"`
	OdometerValue string   `json:"odometerValue,omitempty"`
	OdometerUnit  string   `json:"odometerUnit,omitempty"`
	MotTestNumber string   `json:"motTestNumber,omitempty"`
	Defects       []Defect `json:"defects,omitempty"`
}

// Vehicle is the cached per-registration record. One row per normalized
// registration; MOT history holds at most one test per completed date,
// sorted newest first.
type Vehicle struct {
	Registration      string
	Make              string
	Model             string
	FirstUsedDate     string
	FuelType          string
	PrimaryColour     string
	RegistrationDate  string
	ManufactureDate   string
	EngineSize        int
	YearOfManufacture int
	CO2Emissions      int
	TaxStatus         string
	TaxDueDate        string
	MotStatus         string
	MotExpiryDate     string
	MotTests          []MotTest
	LastUpdated       time.Time
	LastRequested     time.Time
	RequestCount      int
}

// VehicleDraft is the merged upstream document produced by the aggregator.
// Empty strings and nil numeric pointers mean the upstream did not supply
// the field; the store keeps the previously cached value in that case.
type VehicleDraft struct {
	Registration      string
	Make              string
	Model             string
	FirstUsedDate     string
	FuelType          string
	PrimaryColour     string
	RegistrationDate  string
	ManufactureDate   string
	EngineSize        *int
	YearOfManufacture *int
	CO2Emissions      *int
	TaxStatus         string
	TaxDueDate        string
	MotStatus         string
	MotExpiryDate     string
	MotTests          []MotTest
}

// RequestLog is one append-only audit row per inbound lookup, recorded
// regardless of outcome.
type RequestLog struct {
	Registration  string
	RequesterIP   string
	UserAgent     string
	Referrer      string
	CFCountry     string
	CFRegion      string
	CFCity        string
	CFTimezone    string
	CFISP         string
	LocalTimezone string
	Headers       map[string]string
	QueryTime     time.Duration
	Cached        bool
	RequestedAt   time.Time
}

// LookupResult is the flat response body for a successful lookup.
type LookupResult struct {
	Registration      string    `json:"registration_number"`
	Make              string    `json:"make"`
	Model             string    `json:"model"`
	FirstUsedDate     string    `json:"first_used_date"`
	FuelType          string    `json:"fuel_type"`
	PrimaryColour     string    `json:"primary_colour"`
	RegistrationDate  string    `json:"registration_date"`
	ManufactureDate   string    `json:"manufacture_date"`
	EngineSize        int       `json:"engine_size"`
	YearOfManufacture int       `json:"year_of_manufacture"`
	CO2Emissions      int       `json:"co2_emissions"`
	TaxStatus         string    `json:"tax_status"`
	TaxDueDate        string    `json:"tax_due_date"`
	MotStatus         string    `json:"mot_status"`
	MotExpiryDate     string    `json:"mot_expiry_date"`
	MotTests          []MotTest `json:"motTests"`
	RequestCount      int       `json:"request_count"`
}

// NormalizeRegistration strips all whitespace and upper-cases a
// registration mark. Returns "" for input with no usable characters.
func NormalizeRegistration(reg string) string {
	var b strings.Builder
	for _, r := range reg {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Result flattens a cached vehicle into the lookup response shape.
func (v *Vehicle) Result() *LookupResult {
	if v == nil {
		return nil
	}

	tests := v.MotTests
	if tests == nil {
		tests = []MotTest{}
	}

	return &LookupResult{
		Registration:      v.Registration,
		Make:              v.Make,
		Model:             v.Model,
		FirstUsedDate:     v.FirstUsedDate,
		FuelType:          v.FuelType,
		PrimaryColour:     v.PrimaryColour,
		RegistrationDate:  v.RegistrationDate,
		ManufactureDate:   v.ManufactureDate,
		EngineSize:        v.EngineSize,
		YearOfManufacture: v.YearOfManufacture,
		CO2Emissions:      v.CO2Emissions,
		TaxStatus:         v.TaxStatus,
		TaxDueDate:        v.TaxDueDate,
		MotStatus:         v.MotStatus,
		MotExpiryDate:     v.MotExpiryDate,
		MotTests:          tests,
		RequestCount:      v.RequestCount,
	}
}
