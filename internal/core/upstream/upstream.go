// Package upstream holds the clients for the two government vehicle APIs:
// the DVLA Vehicle Enquiry Service (registration and tax data) and the
// DVSA MOT history API (test records behind an OAuth token exchange).
package upstream

import "fmt"

// ErrorKind classifies an upstream failure.
type ErrorKind string

const (
	// KindNotFound means the registration is unknown upstream.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidInput means the upstream rejected the registration format.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindFailure covers every other upstream error, including timeouts.
	KindFailure ErrorKind = "upstream_failure"
)

// Error is a typed upstream failure carrying the status code that should
// pass through to the client.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e == nil {
		return "upstream error"
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}
