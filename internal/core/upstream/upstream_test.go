package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVESClientLookup(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/vehicles", r.URL.Path)
			require.Equal(t, "secret", r.Header.Get("x-api-key"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "AB12CDE", body["registrationNumber"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"registrationNumber": "AB12CDE",
				"make":               "FORD",
				"colour":             "BLUE",
				"fuelType":           "PETROL",
				"engineCapacity":     1242,
				"co2Emissions":       120,
				"yearOfManufacture":  2017,
				"taxStatus":          "Taxed",
				"motStatus":          "Valid",
			})
		}))
		defer srv.Close()

		client := &VESClient{BaseURL: srv.URL, APIKey: "secret"}
		resp, err := client.Lookup(context.Background(), "AB12CDE")
		require.NoError(t, err)
		require.Equal(t, "FORD", resp.Make)
		require.Equal(t, "BLUE", resp.Colour)
		require.NotNil(t, resp.EngineCapacity)
		require.Equal(t, 1242, *resp.EngineCapacity)
	})

	t.Run("StatusMapping", func(t *testing.T) {
		cases := []struct {
			status int
			kind   ErrorKind
		}{
			{http.StatusNotFound, KindNotFound},
			{http.StatusBadRequest, KindInvalidInput},
			{http.StatusInternalServerError, KindFailure},
			{http.StatusServiceUnavailable, KindFailure},
		}

		for _, tc := range cases {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))

			client := &VESClient{BaseURL: srv.URL}
			_, err := client.Lookup(context.Background(), "AB12CDE")
			srv.Close()

			var upErr *Error
			require.ErrorAs(t, err, &upErr)
			require.Equal(t, tc.kind, upErr.Kind)
			require.Equal(t, tc.status, upErr.StatusCode)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		client := &VESClient{
			BaseURL: srv.URL,
			Client:  &http.Client{Timeout: 20 * time.Millisecond},
		}
		_, err := client.Lookup(context.Background(), "AB12CDE")

		var upErr *Error
		require.ErrorAs(t, err, &upErr)
		require.Equal(t, KindFailure, upErr.Kind)
	})
}

func TestTokenSource(t *testing.T) {
	t.Run("CachesUntilExpiry", func(t *testing.T) {
		var exchanges atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exchanges.Add(1)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "client_credentials", r.Form.Get("grant_type"))
			require.Equal(t, "cid", r.Form.Get("client_id"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-1",
				"expires_in":   3600,
			})
		}))
		defer srv.Close()

		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		ts := &TokenSource{
			TokenURL:     srv.URL,
			ClientID:     "cid",
			ClientSecret: "secret",
			Scope:        "https://tapi.dvsa.gov.uk/.default",
			Clock:        func() time.Time { return now },
		}

		tok, err := ts.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tok-1", tok)

		_, err = ts.Token(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 1, exchanges.Load())

		// Past expiry the source exchanges again.
		now = now.Add(time.Hour)
		_, err = ts.Token(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 2, exchanges.Load())
	})

	t.Run("ExchangeFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		ts := &TokenSource{TokenURL: srv.URL, ClientID: "cid", ClientSecret: "bad"}
		_, err := ts.Token(context.Background())
		require.Error(t, err)
	})
}

func TestMOTClientHistory(t *testing.T) {
	newTokenServer := func(t *testing.T) *httptest.Server {
		t.Helper()
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "bearer-tok",
				"expires_in":   3600,
			})
		}))
	}

	t.Run("Success", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/trade/vehicles/registration/AB12CDE", r.URL.Path)
			require.Equal(t, "Bearer bearer-tok", r.Header.Get("Authorization"))
			require.Equal(t, "api-key", r.Header.Get("X-API-Key"))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"registration":  "AB12CDE",
				"make":          "FORD",
				"model":         "FIESTA",
				"primaryColour": "Blue",
				"motTests": []map[string]any{
					{"completedDate": "2024-02-12T09:00:00Z", "testResult": "PASSED"},
				},
			})
		}))
		defer srv.Close()

		client := &MOTClient{
			BaseURL: srv.URL,
			APIKey:  "api-key",
			Tokens:  &TokenSource{TokenURL: tokenSrv.URL, ClientID: "cid", ClientSecret: "secret"},
		}
		resp, err := client.History(context.Background(), "AB12CDE")
		require.NoError(t, err)
		require.Equal(t, "FIESTA", resp.Model)
		require.Len(t, resp.MotTests, 1)
		require.Equal(t, "PASSED", resp.MotTests[0].TestResult)
	})

	t.Run("NonOKIsFailure", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := &MOTClient{
			BaseURL: srv.URL,
			Tokens:  &TokenSource{TokenURL: tokenSrv.URL},
		}
		_, err := client.History(context.Background(), "AB12CDE")

		var upErr *Error
		require.ErrorAs(t, err, &upErr)
		require.Equal(t, KindFailure, upErr.Kind)
	})

	t.Run("TokenFailureIsFailure", func(t *testing.T) {
		tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer tokenSrv.Close()

		client := &MOTClient{
			BaseURL: "http://127.0.0.1:1",
			Tokens:  &TokenSource{TokenURL: tokenSrv.URL},
		}
		_, err := client.History(context.Background(), "AB12CDE")

		var upErr *Error
		require.ErrorAs(t, err, &upErr)
		require.Equal(t, KindFailure, upErr.Kind)
	})
}
