package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/regspy/regspy/internal/config"
	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/pipeline"
	"github.com/regspy/regspy/internal/core/ratelimit"
	apperrors "github.com/regspy/regspy/internal/errors"
	"github.com/regspy/regspy/internal/server/handlers"
)

type memStore struct {
	vehicles map[string]*core.Vehicle
	logs     []core.RequestLog
}

func newMemStore() *memStore {
	return &memStore{vehicles: map[string]*core.Vehicle{}}
}

func (m *memStore) Exists(_ context.Context, registration string) (bool, error) {
	_, ok := m.vehicles[registration]
	return ok, nil
}

func (m *memStore) Get(_ context.Context, registration string) (*core.Vehicle, error) {
	v, ok := m.vehicles[registration]
	if !ok {
		return nil, nil
	}
	v.RequestCount++
	return v, nil
}

func (m *memStore) Upsert(_ context.Context, registration string, draft *core.VehicleDraft) (*core.Vehicle, error) {
	v := &core.Vehicle{
		Registration: registration,
		Make:         draft.Make,
		MotTests:     draft.MotTests,
		RequestCount: 1,
	}
	m.vehicles[registration] = v
	return v, nil
}

func (m *memStore) LogRequest(_ context.Context, entry *core.RequestLog) error {
	m.logs = append(m.logs, *entry)
	return nil
}

type staticFetcher struct {
	draft *core.VehicleDraft
	err   error
}

func (s *staticFetcher) Fetch(_ context.Context, _ string) (*core.VehicleDraft, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.draft, nil
}

func newTestServer(store *memStore, fetcher pipeline.Fetcher, limiter pipeline.Admitter) *Server {
	p := &pipeline.Pipeline{
		Store:      store,
		Aggregator: fetcher,
		Limiter:    limiter,
	}
	vh := &handlers.VehicleHandler{Pipeline: p, Audit: store}
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, vh)
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(newMemStore(), &staticFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestVehicleLookupEndpoint(t *testing.T) {
	store := newMemStore()
	fetcher := &staticFetcher{draft: &core.VehicleDraft{
		Registration: "AB12CDE",
		Make:         "FORD",
		MotTests:     []core.MotTest{{CompletedDate: "2024-06-01", TestResult: "PASSED"}},
	}}
	srv := newTestServer(store, fetcher, nil)

	req := httptest.NewRequest(http.MethodPost, "/vehicle",
		strings.NewReader(`{"reg": "ab12 cde", "timezone": "Europe/London"}`))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body core.LookupResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Registration != "AB12CDE" {
		t.Fatalf("expected normalized registration AB12CDE, got %s", body.Registration)
	}
	if body.RequestCount != 1 {
		t.Fatalf("expected request count 1, got %d", body.RequestCount)
	}
	if len(body.MotTests) != 1 {
		t.Fatalf("expected one MOT test, got %d", len(body.MotTests))
	}

	if len(store.logs) != 1 {
		t.Fatalf("expected one request log entry, got %d", len(store.logs))
	}
	if store.logs[0].LocalTimezone != "Europe/London" {
		t.Fatalf("expected timezone Europe/London, got %s", store.logs[0].LocalTimezone)
	}
}

func TestVehicleLookupRejectsBadBody(t *testing.T) {
	srv := newTestServer(newMemStore(), &staticFetcher{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/vehicle", strings.NewReader(`{"reg": ""}`))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestVehicleLookupMethodNotAllowed(t *testing.T) {
	srv := newTestServer(newMemStore(), &staticFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/vehicle", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestVehicleLookupRateLimitedLogsRejection(t *testing.T) {
	store := newMemStore()
	limiter := ratelimit.New(time.Minute, 0) // admits nothing
	srv := newTestServer(store, &staticFetcher{draft: &core.VehicleDraft{Registration: "AB12CDE"}}, limiter)

	req := httptest.NewRequest(http.MethodPost, "/vehicle",
		strings.NewReader(`{"reg": "AB12CDE"}`))
	req.Header.Set("CF-Connecting-IP", "203.0.113.9")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if len(store.logs) != 1 {
		t.Fatalf("expected rejection to be logged, got %d entries", len(store.logs))
	}
	if store.logs[0].RequesterIP != "203.0.113.9" {
		t.Fatalf("expected CF-Connecting-IP to identify the client, got %s", store.logs[0].RequesterIP)
	}
}
