package types

import "time"

// Status is the lifecycle state of a booking
type Status string

const (
	StatusBooked              Status = "Booked"
	StatusPendingConfirmation Status = "PendingConfirmation"
	StatusConfirmed           Status = "Confirmed"
	StatusInUse               Status = "InUse"
	StatusCompleted           Status = "Completed"
	StatusCancelled           Status = "Cancelled"
	StatusRescheduled         Status = "Rescheduled"
)

var knownStatuses = map[Status]struct{}{
	StatusBooked:              {},
	StatusPendingConfirmation: {},
	StatusConfirmed:           {},
	StatusInUse:               {},
	StatusCompleted:           {},
	StatusCancelled:           {},
	StatusRescheduled:         {},
}

// Valid reports whether s is one of the known booking statuses
func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsTerminal reports whether no alert rule applies to s anymore
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRescheduled
}

// Booking is a rental booking as owned by the backend.
// The monitor only reads it; changes go through mutation requests.
type Booking struct {
	ID                   string     `json:"id"`
	Status               Status     `json:"status"`
	ClientName           string     `json:"clientName"`
	PlannedStartTime     time.Time  `json:"plannedStartTime"`
	ActualStartTime      *time.Time `json:"actualStartTime,omitempty"`
	DurationInHours      float64    `json:"durationInHours"`
	TimeReturnedByClient *time.Time `json:"timeReturnedByClient,omitempty"`
}

// EndTime returns the return deadline of a booking that has been handed over
func (b Booking) EndTime() (time.Time, bool) {
	if b.ActualStartTime == nil || b.ActualStartTime.IsZero() {
		return time.Time{}, false
	}
	return b.ActualStartTime.Add(time.Duration(b.DurationInHours * float64(time.Hour))), true
}
