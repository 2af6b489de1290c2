package types

// AlertType classifies why a booking needs attention
type AlertType string

const (
	AlertOverdue             AlertType = "Overdue"
	AlertUpcoming            AlertType = "Upcoming"
	AlertReadyForReturn      AlertType = "ReadyForReturn"
	AlertPendingConfirmation AlertType = "PendingConfirmation"
	// AlertReadyForPickup is reserved; no rule produces it.
	AlertReadyForPickup AlertType = "ReadyForPickup"
)

// Priority is derived from the rules, never set by callers
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Rank orders priorities, lower is more urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Alert is a derived notification, rebuilt on every tick
type Alert struct {
	ID              string    `json:"id"`
	Type            AlertType `json:"type"`
	Booking         Booking   `json:"booking"`
	Message         string    `json:"message"`
	TimeLeftMinutes int       `json:"timeLeftMinutes"`
	Priority        Priority  `json:"priority"`
}

// AlertID builds the identity of an alert. The status is part of it so a
// booking that changed status never resurfaces an alert dismissed earlier.
func AlertID(bookingID string, status Status) string {
	return bookingID + ":" + string(status)
}
