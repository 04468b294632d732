package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/pipeline"
	apperrors "github.com/regspy/regspy/internal/errors"
)

// RequestLogger records audit entries outside the pipeline, used for
// rate-limit rejections so they still leave a trace.
type RequestLogger interface {
	LogRequest(ctx context.Context, entry *core.RequestLog) error
}

// VehicleLookupRequest is the POST /vehicle request body.
type VehicleLookupRequest struct {
	Reg      string `json:"reg"`
	Timezone string `json:"timezone"`
}

// VehicleHandler serves vehicle lookups.
type VehicleHandler struct {
	Pipeline *pipeline.Pipeline
	Audit    RequestLogger
	Logger   *logging.Logger
	Clock    func() time.Time
}

func (h *VehicleHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now().UTC()
}

// Lookup handles POST /vehicle. The client key for rate limiting is the
// Cloudflare connecting IP when present, otherwise the remote address.
func (h *VehicleHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var body VehicleLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}

	registration := core.NormalizeRegistration(body.Reg)
	if registration == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("Registration number is required"))
		return
	}

	meta := requestMetadata(r, body.Timezone)
	clientKey := clientKeyFromRequest(r)

	start := h.now()
	result, err := h.Pipeline.Lookup(r.Context(), pipeline.Request{
		Registration: body.Reg,
		ClientKey:    clientKey,
		Meta:         meta,
	})
	if err != nil {
		envelope := apperrors.EnsureEnvelope(err)
		if envelope.Code == "RATE_LIMITED" {
			h.logRejection(r, registration, meta, start)
		}
		respondWithError(w, r, envelope)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// logRejection records the audit entry for a rate-limited request. The
// pipeline never saw it, so the boundary owns the log write.
func (h *VehicleHandler) logRejection(r *http.Request, registration string, meta *core.RequestLog, start time.Time) {
	if h.Audit == nil {
		return
	}

	entry := *meta
	entry.Registration = registration
	entry.QueryTime = h.now().Sub(start)
	entry.Cached = false
	entry.RequestedAt = start

	if err := h.Audit.LogRequest(r.Context(), &entry); err != nil && h.Logger != nil {
		h.Logger.Warn("failed to log rate-limited request",
			zap.String("registration", registration),
			zap.Error(err))
	}
}

// clientKeyFromRequest identifies the caller for admission control.
// Cloudflare sits in front of the service in production, so its connecting
// IP header beats the socket address.
func clientKeyFromRequest(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// requestMetadata captures the client details recorded with every lookup.
func requestMetadata(r *http.Request, localTimezone string) *core.RequestLog {
	if strings.TrimSpace(localTimezone) == "" {
		localTimezone = "Unknown"
	}

	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}

	return &core.RequestLog{
		RequesterIP:   clientKeyFromRequest(r),
		UserAgent:     r.Header.Get("User-Agent"),
		Referrer:      r.Header.Get("Referer"),
		CFCountry:     r.Header.Get("CF-IPCountry"),
		CFRegion:      r.Header.Get("CF-Region"),
		CFCity:        r.Header.Get("CF-City"),
		CFTimezone:    r.Header.Get("CF-Timezone"),
		CFISP:         r.Header.Get("CF-ISP"),
		LocalTimezone: localTimezone,
		Headers:       headers,
	}
}
