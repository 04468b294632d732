// Package ratelimit provides per-client sliding-window admission control
// for the lookup pipeline. State is process-local; a restart clears every
// window.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks recent request timestamps per client key and admits a
// request only while the client stays at or under MaxRequests inside the
// trailing Window. Rejected attempts are recorded in the window too, so a
// client hammering the boundary cannot slip through as old entries expire.
type Limiter struct {
	Window      time.Duration
	MaxRequests int
	Clock       func() time.Time

	mu sync.Mutex
	// TODO: evict idle keys; the map grows with every distinct client seen.
	clients map[string][]time.Time
}

// New returns a limiter with the given window and per-window request cap.
func New(window time.Duration, maxRequests int) *Limiter {
	return &Limiter{
		Window:      window,
		MaxRequests: maxRequests,
		clients:     make(map[string][]time.Time),
	}
}

// Admit records the attempt for clientKey and reports whether it is within
// the limit. The prune-append-count sequence runs under the limiter mutex
// so concurrent requests from one client cannot interleave.
func (l *Limiter) Admit(clientKey string) bool {
	if l == nil {
		return true
	}

	now := l.now()
	cutoff := now.Add(-l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.clients == nil {
		l.clients = make(map[string][]time.Time)
	}

	recent := l.clients[clientKey][:0]
	for _, at := range l.clients[clientKey] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	l.clients[clientKey] = recent

	return len(recent) <= l.MaxRequests
}

// Pending returns the number of attempts currently inside the client's
// window without recording a new one.
func (l *Limiter) Pending(clientKey string) int {
	if l == nil {
		return 0
	}

	cutoff := l.now().Add(-l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, at := range l.clients[clientKey] {
		if at.After(cutoff) {
			count++
		}
	}
	return count
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
