package alerter

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UpdateTracker remembers bookings this monitor changed recently.
// The hosting view reads it to avoid resurfacing an alert before
// upstream booking data has caught up.
type UpdateTracker struct {
	log    zerolog.Logger
	grace  time.Duration
	mu     sync.Mutex
	expiry map[string]time.Time // booking id -> end of grace window
}

// NewUpdateTracker creates a tracker with the given grace window
func NewUpdateTracker(log zerolog.Logger, grace time.Duration) *UpdateTracker {
	return &UpdateTracker{
		log:    log.With().Str("component", "update-tracker").Logger(),
		grace:  grace,
		expiry: make(map[string]time.Time),
	}
}

// Record marks a booking as updated at now
func (u *UpdateTracker) Record(bookingID string, now time.Time) time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()

	until := now.Add(u.grace)
	u.expiry[bookingID] = until
	u.log.Debug().Str("booking_id", bookingID).Time("until", until).Msg("booking recently updated")
	return until
}

// IsRecent reports whether the booking is still inside its grace window
func (u *UpdateTracker) IsRecent(bookingID string, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	until, ok := u.expiry[bookingID]
	return ok && now.Before(until)
}

// Snapshot returns the unexpired entries
func (u *UpdateTracker) Snapshot(now time.Time) map[string]time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]time.Time, len(u.expiry))
	for id, until := range u.expiry {
		if now.Before(until) {
			out[id] = until
		}
	}
	return out
}

// Prune drops expired entries. Expired entries are already invisible to
// readers, so this only bounds memory.
func (u *UpdateTracker) Prune(now time.Time) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	removed := 0
	for id, until := range u.expiry {
		if !now.Before(until) {
			delete(u.expiry, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (u *UpdateTracker) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.expiry)
}
