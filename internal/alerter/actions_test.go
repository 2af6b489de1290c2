package alerter

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
)

var at = time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC)

func alertFor(typ types.AlertType, status types.Status) types.Alert {
	start := at.Add(-time.Hour)
	b := types.Booking{ID: "b1", Status: status, ClientName: "Ana", PlannedStartTime: start, DurationInHours: 2}
	if status == types.StatusInUse {
		b.ActualStartTime = &start
	}
	return types.Alert{ID: types.AlertID(b.ID, status), Type: typ, Booking: b}
}

func TestAvailableActions(t *testing.T) {
	tests := []struct {
		name   string
		typ    types.AlertType
		status types.Status
		want   []Action
	}{
		{"upcoming booked", types.AlertUpcoming, types.StatusBooked, []Action{ActionMarkInUse, ActionCancel}},
		{"upcoming confirmed", types.AlertUpcoming, types.StatusConfirmed, []Action{ActionMarkInUse, ActionCancel}},
		{"overdue booked", types.AlertOverdue, types.StatusBooked, []Action{ActionMarkInUse, ActionCancel}},
		{"overdue in use", types.AlertOverdue, types.StatusInUse, []Action{ActionMarkCompleted, ActionExtendTime}},
		{"ready for return", types.AlertReadyForReturn, types.StatusInUse, []Action{ActionMarkCompleted, ActionExtendTime}},
		{"pending confirmation", types.AlertPendingConfirmation, types.StatusPendingConfirmation, []Action{ActionConfirmBooking, ActionConfirmAndIssue, ActionReschedule}},
		{"reserved type", types.AlertReadyForPickup, types.StatusBooked, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AvailableActions(alertFor(tt.typ, tt.status))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AvailableActions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("extend-time"); err != nil || a != ActionExtendTime {
		t.Errorf("ParseAction(extend-time) = %q, %v", a, err)
	}
	if _, err := ParseAction("teleport"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("ParseAction(teleport) error = %v, want ErrUnknownAction", err)
	}
}

func TestBuildPatch(t *testing.T) {
	tests := []struct {
		name         string
		action       Action
		alert        types.Alert
		wantStatus   types.Status
		wantStart    bool
		wantReturned bool
		wantHours    float64
	}{
		{"mark in use", ActionMarkInUse, alertFor(types.AlertUpcoming, types.StatusBooked), types.StatusInUse, true, false, 0},
		{"mark completed", ActionMarkCompleted, alertFor(types.AlertOverdue, types.StatusInUse), types.StatusCompleted, false, true, 0},
		{"cancel", ActionCancel, alertFor(types.AlertOverdue, types.StatusConfirmed), types.StatusCancelled, false, false, 0},
		{"extend time", ActionExtendTime, alertFor(types.AlertReadyForReturn, types.StatusInUse), "", false, false, 3},
		{"confirm", ActionConfirmBooking, alertFor(types.AlertPendingConfirmation, types.StatusPendingConfirmation), types.StatusConfirmed, false, false, 0},
		{"confirm and issue", ActionConfirmAndIssue, alertFor(types.AlertPendingConfirmation, types.StatusPendingConfirmation), types.StatusInUse, true, false, 0},
		{"reschedule", ActionReschedule, alertFor(types.AlertPendingConfirmation, types.StatusPendingConfirmation), types.StatusRescheduled, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildPatch(tt.action, tt.alert, at)
			if err != nil {
				t.Fatalf("BuildPatch() error = %v", err)
			}
			status, changed := p.StatusChange()
			if tt.wantStatus == "" {
				if changed {
					t.Errorf("unexpected status change to %s", status)
				}
			} else if status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
			if tt.wantStart != (p.ActualStartTime != nil) {
				t.Errorf("ActualStartTime set = %v, want %v", p.ActualStartTime != nil, tt.wantStart)
			}
			if p.ActualStartTime != nil && !p.ActualStartTime.Equal(at) {
				t.Errorf("ActualStartTime = %v, want %v", *p.ActualStartTime, at)
			}
			if tt.wantReturned != (p.TimeReturnedByClient != nil) {
				t.Errorf("TimeReturnedByClient set = %v, want %v", p.TimeReturnedByClient != nil, tt.wantReturned)
			}
			if tt.wantHours != 0 && (p.DurationInHours == nil || *p.DurationInHours != tt.wantHours) {
				t.Errorf("DurationInHours = %v, want %v", p.DurationInHours, tt.wantHours)
			}
		})
	}
}

func TestBuildPatchRejects(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		alert   types.Alert
		wantErr error
	}{
		{"unknown action", Action("teleport"), alertFor(types.AlertUpcoming, types.StatusBooked), ErrUnknownAction},
		{"extend on upcoming", ActionExtendTime, alertFor(types.AlertUpcoming, types.StatusBooked), ErrActionNotApplicable},
		{"complete a booked overdue", ActionMarkCompleted, alertFor(types.AlertOverdue, types.StatusBooked), ErrActionNotApplicable},
		{"cancel in use", ActionCancel, alertFor(types.AlertOverdue, types.StatusInUse), ErrActionNotApplicable},
		{"confirm upcoming", ActionConfirmBooking, alertFor(types.AlertUpcoming, types.StatusBooked), ErrActionNotApplicable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildPatch(tt.action, tt.alert, at); !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildPatch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
