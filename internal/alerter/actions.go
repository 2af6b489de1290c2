package alerter

import (
	"fmt"
	"slices"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
)

// Action is an operator quick action offered on an alert
type Action string

const (
	ActionMarkInUse       Action = "mark-in-use"
	ActionMarkCompleted   Action = "mark-completed"
	ActionCancel          Action = "cancel"
	ActionExtendTime      Action = "extend-time"
	ActionConfirmBooking  Action = "confirm-booking"
	ActionConfirmAndIssue Action = "confirm-and-issue"
	ActionReschedule      Action = "reschedule"
)

// actionOrder is the order actions are offered in
var actionOrder = []Action{
	ActionMarkInUse,
	ActionMarkCompleted,
	ActionExtendTime,
	ActionConfirmBooking,
	ActionConfirmAndIssue,
	ActionReschedule,
	ActionCancel,
}

type actionRule struct {
	alertTypes []types.AlertType
	statuses   []types.Status
	build      func(b types.Booking, now time.Time) types.Patch
}

var (
	preFulfillment = []types.Status{types.StatusBooked, types.StatusConfirmed}
	outOnWater     = []types.Status{types.StatusInUse}
	awaitingOK     = []types.Status{types.StatusPendingConfirmation}
)

var actionRules = map[Action]actionRule{
	ActionMarkInUse: {
		alertTypes: []types.AlertType{types.AlertUpcoming, types.AlertOverdue},
		statuses:   preFulfillment,
		build:      handOver,
	},
	ActionMarkCompleted: {
		alertTypes: []types.AlertType{types.AlertReadyForReturn, types.AlertOverdue},
		statuses:   outOnWater,
		build: func(_ types.Booking, now time.Time) types.Patch {
			return types.Patch{Status: statusPtr(types.StatusCompleted), TimeReturnedByClient: &now}
		},
	},
	ActionCancel: {
		alertTypes: []types.AlertType{types.AlertUpcoming, types.AlertOverdue},
		statuses:   preFulfillment,
		build:      setStatus(types.StatusCancelled),
	},
	ActionExtendTime: {
		alertTypes: []types.AlertType{types.AlertReadyForReturn, types.AlertOverdue},
		statuses:   outOnWater,
		build: func(b types.Booking, _ time.Time) types.Patch {
			hours := b.DurationInHours + 1
			return types.Patch{DurationInHours: &hours}
		},
	},
	ActionConfirmBooking: {
		alertTypes: []types.AlertType{types.AlertPendingConfirmation},
		statuses:   awaitingOK,
		build:      setStatus(types.StatusConfirmed),
	},
	ActionConfirmAndIssue: {
		alertTypes: []types.AlertType{types.AlertPendingConfirmation},
		statuses:   awaitingOK,
		build:      handOver,
	},
	ActionReschedule: {
		alertTypes: []types.AlertType{types.AlertPendingConfirmation},
		statuses:   awaitingOK,
		build:      setStatus(types.StatusRescheduled),
	},
}

func handOver(_ types.Booking, now time.Time) types.Patch {
	return types.Patch{Status: statusPtr(types.StatusInUse), ActualStartTime: &now}
}

func setStatus(s types.Status) func(types.Booking, time.Time) types.Patch {
	return func(types.Booking, time.Time) types.Patch {
		return types.Patch{Status: statusPtr(s)}
	}
}

func statusPtr(s types.Status) *types.Status {
	return &s
}

// ParseAction validates an action name
func ParseAction(name string) (Action, error) {
	a := Action(name)
	if _, ok := actionRules[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a, nil
}

// Applies reports whether the action may be offered on the alert
func (a Action) Applies(alert types.Alert) bool {
	rule, ok := actionRules[a]
	if !ok {
		return false
	}
	return slices.Contains(rule.alertTypes, alert.Type) && slices.Contains(rule.statuses, alert.Booking.Status)
}

// AvailableActions lists the actions offered on an alert
func AvailableActions(alert types.Alert) []Action {
	var out []Action
	for _, a := range actionOrder {
		if a.Applies(alert) {
			out = append(out, a)
		}
	}
	return out
}

// BuildPatch returns the partial update the action sends for the alert's booking
func BuildPatch(a Action, alert types.Alert, now time.Time) (types.Patch, error) {
	rule, ok := actionRules[a]
	if !ok {
		return types.Patch{}, fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	if !a.Applies(alert) {
		return types.Patch{}, fmt.Errorf("%w: %s on %s alert for %s booking", ErrActionNotApplicable, a, alert.Type, alert.Booking.Status)
	}
	return rule.build(alert.Booking, now), nil
}
