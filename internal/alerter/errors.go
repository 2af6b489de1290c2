package alerter

import (
	"errors"
	"fmt"
)

var (
	// ErrAlertNotFound means the alert id is not visible in the current tick
	ErrAlertNotFound = errors.New("alert not found")
	// ErrUnknownAction means the action name is not in the action table
	ErrUnknownAction = errors.New("unknown action")
	// ErrActionNotApplicable means the action is not offered for this alert
	ErrActionNotApplicable = errors.New("action not applicable to alert")
	// ErrActionInFlight means a command for the same alert has not completed yet
	ErrActionInFlight = errors.New("action already in flight for alert")
	// ErrDiscarded means the result arrived after the monitor stopped
	ErrDiscarded = errors.New("result discarded, monitor stopped")
)

// MutationError wraps a failure returned by the mutation backend
type MutationError struct {
	BookingID string
	Action    Action
	Err       error
}

func (e MutationError) Error() string {
	return fmt.Sprintf("%s on booking %s: %v", e.Action, e.BookingID, e.Err)
}

func (e MutationError) Unwrap() error {
	return e.Err
}
