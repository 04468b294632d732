package metrics

import (
	"time"

	"github.com/regspy/regspy/internal/observability"
)

// Application-level metrics following Prometheus conventions.
var (
	LookupsTotal        = "vehicle_lookups_total"
	LookupDuration      = "vehicle_lookup_duration_ms"
	CacheHitsTotal      = "vehicle_cache_hits_total"
	UpstreamCallsTotal  = "upstream_calls_total"
	RateLimitedTotal    = "rate_limited_requests_total"
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
)

// RecordLookup records one vehicle lookup with its outcome and duration.
func RecordLookup(outcome string, cached bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}

	_ = observability.TelemetrySystem.Counter(
		LookupsTotal,
		1,
		map[string]string{
			"outcome": outcome,
			"cached":  cachedLabel,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		LookupDuration,
		duration,
		map[string]string{"outcome": outcome},
	)
	if cached {
		_ = observability.TelemetrySystem.Counter(CacheHitsTotal, 1, nil)
	}
}

// RecordUpstreamCall records one call to a government API.
func RecordUpstreamCall(api string, success bool) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	_ = observability.TelemetrySystem.Counter(
		UpstreamCallsTotal,
		1,
		map[string]string{
			"api":    api,
			"status": status,
		},
	)
}

// RecordRateLimited records an admission rejection.
func RecordRateLimited() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitedTotal, 1, nil)
	}
}

// RecordHealthCheck records a health check with duration.
func RecordHealthCheck(check string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{
			"check":  check,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": check},
	)
}
