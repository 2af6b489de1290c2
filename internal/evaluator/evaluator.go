package evaluator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
)

// Rules holds the time windows used to classify bookings.
// Evaluate has no side effects and captures no mutable state.
type Rules struct {
	// UpcomingWindow is how far ahead a start raises an Upcoming alert
	UpcomingWindow time.Duration
	// UrgentWindow is the part of UpcomingWindow that is High priority
	UrgentWindow time.Duration
	// ReturnWindow is how far ahead a return deadline raises ReadyForReturn
	ReturnWindow time.Duration
}

// DefaultRules returns the desk's standard windows
func DefaultRules() Rules {
	return Rules{
		UpcomingWindow: 15 * time.Minute,
		UrgentWindow:   5 * time.Minute,
		ReturnWindow:   10 * time.Minute,
	}
}

// MaxDurationHours bounds a rental; longer durations are treated as malformed
const MaxDurationHours = 24 * 365

var (
	errMissingID      = errors.New("booking id is empty")
	errUnknownStatus  = errors.New("unknown status")
	errNoPlannedStart = errors.New("planned start time is not set")
	errNoActualStart  = errors.New("in use without actual start time")
	errBadDuration    = errors.New("duration is not a valid number of hours")
)

// Evaluate classifies bookings at now using DefaultRules
func Evaluate(bookings []types.Booking, now time.Time) []types.Alert {
	return DefaultRules().Evaluate(bookings, now)
}

// Evaluate returns at most one alert per booking, most urgent first.
// Bookings that fail Validate are skipped.
func (r Rules) Evaluate(bookings []types.Booking, now time.Time) []types.Alert {
	alerts := make([]types.Alert, 0, len(bookings))
	for _, b := range bookings {
		if alert, ok := r.Classify(b, now); ok {
			alerts = append(alerts, alert)
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Priority.Rank(), alerts[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return alerts[i].TimeLeftMinutes < alerts[j].TimeLeftMinutes
	})
	return alerts
}

// Classify applies the rule for the booking's status
func (r Rules) Classify(b types.Booking, now time.Time) (types.Alert, bool) {
	if Validate(b) != nil {
		return types.Alert{}, false
	}

	switch b.Status {
	case types.StatusBooked, types.StatusConfirmed:
		return r.classifyStart(b, now)
	case types.StatusPendingConfirmation:
		if b.PlannedStartTime.IsZero() {
			msg := fmt.Sprintf("%s is awaiting confirmation", b.ClientName)
			return newAlert(b, types.AlertPendingConfirmation, types.PriorityHigh, 0, msg), true
		}
		minutes := minutesUntil(b.PlannedStartTime, now)
		return newAlert(b, types.AlertPendingConfirmation, types.PriorityHigh, minutes, pendingMessage(b.ClientName, minutes)), true
	case types.StatusInUse:
		return r.classifyReturn(b, now)
	}
	return types.Alert{}, false
}

// classifyStart handles bookings waiting for the client to show up
func (r Rules) classifyStart(b types.Booking, now time.Time) (types.Alert, bool) {
	minutes := minutesUntil(b.PlannedStartTime, now)
	if minutes < 0 {
		msg := fmt.Sprintf("%s is %s overdue for pickup", b.ClientName, pluralMinutes(-minutes))
		return newAlert(b, types.AlertOverdue, types.PriorityHigh, minutes, msg), true
	}
	if minutes > wholeMinutes(r.UpcomingWindow) {
		return types.Alert{}, false
	}

	priority := types.PriorityMedium
	if minutes <= wholeMinutes(r.UrgentWindow) {
		priority = types.PriorityHigh
	}
	msg := fmt.Sprintf("%s arrives in %s", b.ClientName, pluralMinutes(minutes))
	return newAlert(b, types.AlertUpcoming, priority, minutes, msg), true
}

// classifyReturn handles bookings whose board is out on the water
func (r Rules) classifyReturn(b types.Booking, now time.Time) (types.Alert, bool) {
	end, ok := b.EndTime()
	if !ok {
		return types.Alert{}, false
	}

	minutes := minutesUntil(end, now)
	if minutes < 0 {
		msg := fmt.Sprintf("%s is %s overdue for return", b.ClientName, pluralMinutes(-minutes))
		return newAlert(b, types.AlertOverdue, types.PriorityHigh, minutes, msg), true
	}
	if minutes > wholeMinutes(r.ReturnWindow) {
		return types.Alert{}, false
	}
	msg := fmt.Sprintf("%s is due back in %s", b.ClientName, pluralMinutes(minutes))
	return newAlert(b, types.AlertReadyForReturn, types.PriorityMedium, minutes, msg), true
}

// Validate reports why a booking cannot be classified
func Validate(b types.Booking) error {
	if b.ID == "" {
		return errMissingID
	}
	if !b.Status.Valid() {
		return fmt.Errorf("booking %s: %w %q", b.ID, errUnknownStatus, b.Status)
	}
	switch b.Status {
	case types.StatusBooked, types.StatusConfirmed:
		if b.PlannedStartTime.IsZero() {
			return fmt.Errorf("booking %s: %w", b.ID, errNoPlannedStart)
		}
	case types.StatusInUse:
		if b.ActualStartTime == nil || b.ActualStartTime.IsZero() {
			return fmt.Errorf("booking %s: %w", b.ID, errNoActualStart)
		}
		d := b.DurationInHours
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 || d > MaxDurationHours {
			return fmt.Errorf("booking %s: %w (%v)", b.ID, errBadDuration, d)
		}
	}
	return nil
}

func newAlert(b types.Booking, alertType types.AlertType, priority types.Priority, minutes int, msg string) types.Alert {
	return types.Alert{
		ID:              types.AlertID(b.ID, b.Status),
		Type:            alertType,
		Booking:         b,
		Message:         msg,
		TimeLeftMinutes: minutes,
		Priority:        priority,
	}
}

func pendingMessage(name string, minutes int) string {
	if minutes < 0 {
		return fmt.Sprintf("%s is awaiting confirmation, start was %s ago", name, pluralMinutes(-minutes))
	}
	return fmt.Sprintf("%s is awaiting confirmation, starts in %s", name, pluralMinutes(minutes))
}

// minutesUntil is target minus now in whole minutes, truncated toward zero
func minutesUntil(target, now time.Time) int {
	return wholeMinutes(target.Sub(now))
}

func wholeMinutes(d time.Duration) int {
	return int(d / time.Minute)
}

func pluralMinutes(n int) string {
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
