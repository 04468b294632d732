package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/regspy/regspy/internal/core"
)

// MOTResponse carries vehicle identity plus the MOT test list from the
// trade history API.
type MOTResponse struct {
	Registration     string         `json:"registration"`
	Make             string         `json:"make"`
	Model            string         `json:"model"`
	FirstUsedDate    string         `json:"firstUsedDate"`
	FuelType         string         `json:"fuelType"`
	PrimaryColour    string         `json:"primaryColour"`
	RegistrationDate string         `json:"registrationDate"`
	ManufactureDate  string         `json:"manufactureDate"`
	EngineSize       *int           `json:"engineSize,string,omitempty"`
	MotTests         []core.MotTest `json:"motTests"`
}

// BulkFile describes one downloadable archive from the bulk listing.
// DownloadURL is presigned; fetching it needs no further credentials.
type BulkFile struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// BulkListing is the trade API's bulk-download manifest: one full snapshot
// plus incremental delta archives.
type BulkListing struct {
	Bulk  []BulkFile `json:"bulk"`
	Delta []BulkFile `json:"delta"`
}

// MOTClient queries the DVSA MOT history API using a bearer token from the
// token source.
type MOTClient struct {
	Client *http.Client
	// BaseURL is the API root, e.g. https://history.mot.api.gov.uk.
	BaseURL string
	APIKey  string
	Tokens  *TokenSource
}

// History fetches the MOT record for a registration. All failures are
// KindFailure: callers tolerate this API being down and substitute an
// empty test list.
func (c *MOTClient) History(ctx context.Context, registration string) (*MOTResponse, error) {
	if c == nil {
		return nil, errors.New("mot client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("mot token exchange: %v", err)}
	}

	endpoint := strings.TrimSuffix(c.BaseURL, "/") + "/v1/trade/vehicles/registration/" + url.PathEscape(registration)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build mot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", c.APIKey)

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("mot history request failed: %v", err)}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       KindFailure,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("mot history returned status %d", resp.StatusCode),
		}
	}

	var payload MOTResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("decode mot history response: %v", err)}
	}
	return &payload, nil
}

// BulkListing fetches the bulk-download manifest for the trade data feed.
func (c *MOTClient) BulkListing(ctx context.Context) (*BulkListing, error) {
	if c == nil {
		return nil, errors.New("mot client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("mot token exchange: %v", err)}
	}

	endpoint := strings.TrimSuffix(c.BaseURL, "/") + "/v1/trade/vehicles/bulk-download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build bulk listing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", c.APIKey)

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("bulk listing request failed: %v", err)}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       KindFailure,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("bulk listing returned status %d", resp.StatusCode),
		}
	}

	var listing BulkListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &Error{Kind: KindFailure, StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("decode bulk listing: %v", err)}
	}
	return &listing, nil
}
