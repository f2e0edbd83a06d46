// Package retention implements the rolling time window that bounds both the
// sync scan and the expiry passes.
package retention

import "time"

// DefaultTTL is how long posts and media stay in the store.
const DefaultTTL = 24 * time.Hour

// Window computes the retention cutoff in a fixed timezone.
// Cutoff is re-evaluated on every call on purpose: a long reconciliation pass
// uses a slightly later cutoff for later steps, which is accepted drift.
type Window struct {
	Location *time.Location
	TTL      time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// New builds a Window for the given timezone and TTL. A zero TTL falls back to
// DefaultTTL; a nil location falls back to UTC.
func New(loc *time.Location, ttl time.Duration) Window {
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Window{Location: loc, TTL: ttl, now: time.Now}
}

// WithNow returns a copy of the window using the given clock. Test helper.
func (w Window) WithNow(now func() time.Time) Window {
	w.now = now
	return w
}

// Cutoff returns the retention boundary: current time in the window's
// timezone minus the TTL. Anything dated strictly before it is expired;
// a timestamp equal to the cutoff is retained.
func (w Window) Cutoff() time.Time {
	now := w.now
	if now == nil {
		now = time.Now
	}
	return now().In(w.Location).Add(-w.TTL)
}

// Contains reports whether t is inside the retention window (t >= cutoff).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Cutoff())
}
