// Package pipeline orchestrates a vehicle lookup end to end: admission
// control, cache check, upstream aggregation on miss or stale data, cache
// write-back, and the per-request audit log entry.
package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/upstream"
	apperrors "github.com/regspy/regspy/internal/errors"
	"github.com/regspy/regspy/internal/metrics"
)

// VehicleStore is the persistence surface the pipeline needs. The concrete
// store stays swappable behind it.
type VehicleStore interface {
	Exists(ctx context.Context, registration string) (bool, error)
	Get(ctx context.Context, registration string) (*core.Vehicle, error)
	Upsert(ctx context.Context, registration string, draft *core.VehicleDraft) (*core.Vehicle, error)
	LogRequest(ctx context.Context, entry *core.RequestLog) error
}

// Fetcher aggregates the upstream APIs into one draft record.
type Fetcher interface {
	Fetch(ctx context.Context, registration string) (*core.VehicleDraft, error)
}

// Admitter decides whether a client may proceed.
type Admitter interface {
	Admit(clientKey string) bool
}

// Request is one inbound lookup with the client metadata captured at the
// HTTP boundary. Meta may be nil for internal callers (CLI, ingest).
type Request struct {
	Registration string
	ClientKey    string
	Meta         *core.RequestLog
}

// Pipeline wires the lookup components together. Clock is overridable so
// tests control the staleness boundary deterministically.
type Pipeline struct {
	Store      VehicleStore
	Aggregator Fetcher
	Limiter    Admitter
	Logger     *logging.Logger
	Clock      func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

// Lookup runs one request through the full state machine. On success the
// returned result carries the cached record and its current request count.
// Failures come back as error envelopes already mapped to an HTTP status;
// a rate-limited request is rejected before touching the store, and its
// audit entry is the caller's responsibility.
func (p *Pipeline) Lookup(ctx context.Context, req Request) (*core.LookupResult, error) {
	if p == nil || p.Store == nil || p.Aggregator == nil {
		return nil, apperrors.NewInternalError("lookup pipeline is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	registration := core.NormalizeRegistration(req.Registration)
	if registration == "" {
		return nil, apperrors.NewInvalidInputError("registration is required")
	}

	if p.Limiter != nil && !p.Limiter.Admit(req.ClientKey) {
		metrics.RecordRateLimited()
		return nil, apperrors.NewRateLimitedError("Too many requests. Please try again later.")
	}

	start := p.now()

	// Whether any record existed before this call, fresh or stale. The
	// audit log records this flag, not the fresh-hit outcome alone.
	wasCached, err := p.Store.Exists(ctx, registration)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(ctx, err, "failed to check vehicle cache")
	}

	vehicle, err := p.Store.Get(ctx, registration)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(ctx, err, "failed to read vehicle cache")
	}

	if vehicle != nil {
		p.logRequest(ctx, registration, req.Meta, start, true)
		metrics.RecordLookup("hit", true, p.now().Sub(start))
		return vehicle.Result(), nil
	}

	draft, err := p.Aggregator.Fetch(ctx, registration)
	if err != nil {
		p.logRequest(ctx, registration, req.Meta, start, wasCached)
		metrics.RecordLookup("upstream_error", wasCached, p.now().Sub(start))
		return nil, p.translateFetchError(ctx, registration, err)
	}

	vehicle, err = p.Store.Upsert(ctx, registration, draft)
	if err != nil {
		p.logRequest(ctx, registration, req.Meta, start, wasCached)
		return nil, apperrors.WrapDatabaseError(ctx, err, "failed to write vehicle cache")
	}

	p.logRequest(ctx, registration, req.Meta, start, wasCached)
	metrics.RecordLookup("miss", wasCached, p.now().Sub(start))
	return vehicle.Result(), nil
}

// logRequest emits the audit entry for this request. Log failures are
// reported but never fail the lookup.
func (p *Pipeline) logRequest(ctx context.Context, registration string, meta *core.RequestLog, start time.Time, cached bool) {
	entry := &core.RequestLog{}
	if meta != nil {
		*entry = *meta
	}
	entry.Registration = registration
	entry.QueryTime = p.now().Sub(start)
	entry.Cached = cached
	entry.RequestedAt = start

	if err := p.Store.LogRequest(ctx, entry); err != nil && p.Logger != nil {
		p.Logger.Warn("failed to record request log entry",
			zap.String("registration", registration),
			zap.Error(err))
	}
}

func (p *Pipeline) translateFetchError(ctx context.Context, registration string, err error) *errors.ErrorEnvelope {
	var upErr *upstream.Error
	if stderrors.As(err, &upErr) {
		if p.Logger != nil {
			p.Logger.Warn("upstream lookup failed",
				zap.String("registration", registration),
				zap.Int("status", upErr.StatusCode),
				zap.Error(err))
		}
		return apperrors.FromUpstream(ctx, upErr)
	}
	return apperrors.WrapInternal(ctx, err, "vehicle lookup failed")
}
