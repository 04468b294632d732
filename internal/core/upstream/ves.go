package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultVESBaseURL = "https://driver-vehicle-licensing.api.gov.uk/vehicle-enquiry/v1"

// VESResponse carries the identity, tax, and MOT-status fields returned by
// the vehicle enquiry service.
type VESResponse struct {
	RegistrationNumber       string `json:"registrationNumber"`
	Make                     string `json:"make"`
	Colour                   string `json:"colour"`
	FuelType                 string `json:"fuelType"`
	EngineCapacity           *int   `json:"engineCapacity"`
	CO2Emissions             *int   `json:"co2Emissions"`
	YearOfManufacture        *int   `json:"yearOfManufacture"`
	TaxStatus                string `json:"taxStatus"`
	TaxDueDate               string `json:"taxDueDate"`
	MotStatus                string `json:"motStatus"`
	MotExpiryDate            string `json:"motExpiryDate"`
	MonthOfFirstRegistration string `json:"monthOfFirstRegistration"`
}

// VESClient queries the DVLA Vehicle Enquiry Service.
type VESClient struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

// Lookup fetches registration data. Upstream status codes map to typed
// errors: 404 means the registration is unknown, 400 means the upstream
// rejected the mark, anything else non-200 is a pass-through failure.
func (c *VESClient) Lookup(ctx context.Context, registration string) (*VESResponse, error) {
	if c == nil {
		return nil, errors.New("ves client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(map[string]string{"registrationNumber": registration})
	if err != nil {
		return nil, fmt.Errorf("encode ves request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.baseURL(), "/") + "/vehicles"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ves request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("vehicle enquiry request failed: %v", err)}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch resp.StatusCode {
	case http.StatusOK:
		var payload VESResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("decode vehicle enquiry response: %v", err)}
		}
		return &payload, nil
	case http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, StatusCode: http.StatusNotFound, Message: "Vehicle not found"}
	case http.StatusBadRequest:
		return nil, &Error{Kind: KindInvalidInput, StatusCode: http.StatusBadRequest, Message: "Invalid registration number"}
	default:
		return nil, &Error{
			Kind:       KindFailure,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Error fetching vehicle data from VES API: %d", resp.StatusCode),
		}
	}
}

func (c *VESClient) baseURL() string {
	if c != nil && c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultVESBaseURL
}
