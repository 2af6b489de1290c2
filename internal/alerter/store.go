package alerter

import (
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
)

// Reconcile removes dismissed alert ids from candidates, keeping their order
func Reconcile(candidates []types.Alert, dismissed map[string]struct{}) []types.Alert {
	visible := make([]types.Alert, 0, len(candidates))
	for _, a := range candidates {
		if _, gone := dismissed[a.ID]; gone {
			continue
		}
		visible = append(visible, a)
	}
	return visible
}

// Store holds the visible alerts of the current tick, the ids the
// operator closed and the ids held back until a deadline. It is owned by
// the monitor loop and is not safe for concurrent use.
type Store struct {
	dismissed map[string]struct{}
	held      map[string]time.Time // alert id -> end of hold
	visible   []types.Alert
}

// NewStore creates an empty alert store
func NewStore() *Store {
	return &Store{
		dismissed: make(map[string]struct{}),
		held:      make(map[string]time.Time),
	}
}

// Reconcile replaces the visible alerts with the tick's candidates minus
// dismissed ids and ids still held at now. Expired holds are dropped.
func (s *Store) Reconcile(candidates []types.Alert, now time.Time) []types.Alert {
	hidden := make(map[string]struct{}, len(s.dismissed)+len(s.held))
	for id := range s.dismissed {
		hidden[id] = struct{}{}
	}
	for id, until := range s.held {
		if !now.Before(until) {
			delete(s.held, id)
			continue
		}
		hidden[id] = struct{}{}
	}
	s.visible = Reconcile(candidates, hidden)
	return s.Visible()
}

// Dismiss closes an alert id for the rest of the session.
// It reports whether the id was visible.
func (s *Store) Dismiss(id string) bool {
	s.dismissed[id] = struct{}{}
	return s.removeVisible(id)
}

func (s *Store) removeVisible(id string) bool {
	for i, a := range s.visible {
		if a.ID == id {
			s.visible = append(s.visible[:i:i], s.visible[i+1:]...)
			return true
		}
	}
	return false
}

// Hold hides an alert id until the given time. Unlike Dismiss the id
// shows again once the hold ends, even if the booking status never changed.
func (s *Store) Hold(id string, until time.Time) {
	s.held[id] = until
	s.removeVisible(id)
}

// IsHeld reports whether id is held back at now
func (s *Store) IsHeld(id string, now time.Time) bool {
	until, ok := s.held[id]
	return ok && now.Before(until)
}

// IsDismissed reports whether id was dismissed
func (s *Store) IsDismissed(id string) bool {
	_, ok := s.dismissed[id]
	return ok
}

// Lookup returns the visible alert with id
func (s *Store) Lookup(id string) (types.Alert, bool) {
	for _, a := range s.visible {
		if a.ID == id {
			return a, true
		}
	}
	return types.Alert{}, false
}

// Visible returns a copy of the visible alerts
func (s *Store) Visible() []types.Alert {
	out := make([]types.Alert, len(s.visible))
	copy(out, s.visible)
	return out
}

// DismissedCount returns the size of the dismissed set
func (s *Store) DismissedCount() int {
	return len(s.dismissed)
}
