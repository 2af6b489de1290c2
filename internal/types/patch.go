package types

import "time"

// Patch is a partial booking update. Nil fields are left untouched.
type Patch struct {
	Status               *Status    `json:"status,omitempty"`
	ActualStartTime      *time.Time `json:"actualStartTime,omitempty"`
	TimeReturnedByClient *time.Time `json:"timeReturnedByClient,omitempty"`
	DurationInHours      *float64   `json:"durationInHours,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Status == nil && p.ActualStartTime == nil && p.TimeReturnedByClient == nil && p.DurationInHours == nil
}

// StatusChange returns the new status when the patch sets one
func (p Patch) StatusChange() (Status, bool) {
	if p.Status == nil {
		return "", false
	}
	return *p.Status, true
}

// Apply returns a copy of b with the patch fields applied
func (p Patch) Apply(b Booking) Booking {
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.ActualStartTime != nil {
		t := *p.ActualStartTime
		b.ActualStartTime = &t
	}
	if p.TimeReturnedByClient != nil {
		t := *p.TimeReturnedByClient
		b.TimeReturnedByClient = &t
	}
	if p.DurationInHours != nil {
		b.DurationInHours = *p.DurationInHours
	}
	return b
}
