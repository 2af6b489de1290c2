package alerter

import (
	"reflect"
	"testing"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
)

func alertIDs(alerts []types.Alert) []string {
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

func candidate(bookingID string, status types.Status) types.Alert {
	return types.Alert{
		ID:      types.AlertID(bookingID, status),
		Type:    types.AlertUpcoming,
		Booking: types.Booking{ID: bookingID, Status: status},
	}
}

func TestReconcile(t *testing.T) {
	candidates := []types.Alert{
		candidate("1", types.StatusBooked),
		candidate("2", types.StatusInUse),
		candidate("3", types.StatusBooked),
	}

	tests := []struct {
		name      string
		dismissed map[string]struct{}
		want      []string
	}{
		{"nothing dismissed", nil, []string{"1:Booked", "2:InUse", "3:Booked"}},
		{"middle dismissed", map[string]struct{}{"2:InUse": {}}, []string{"1:Booked", "3:Booked"}},
		{"stale id ignored", map[string]struct{}{"9:Booked": {}}, []string{"1:Booked", "2:InUse", "3:Booked"}},
		{"all dismissed", map[string]struct{}{"1:Booked": {}, "2:InUse": {}, "3:Booked": {}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alertIDs(Reconcile(candidates, tt.dismissed))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Reconcile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreDismiss(t *testing.T) {
	s := NewStore()
	s.Reconcile([]types.Alert{candidate("1", types.StatusBooked), candidate("2", types.StatusBooked)}, at)

	if !s.Dismiss("1:Booked") {
		t.Fatal("Dismiss() of visible alert returned false")
	}
	if got := alertIDs(s.Visible()); !reflect.DeepEqual(got, []string{"2:Booked"}) {
		t.Errorf("Visible() after dismiss = %v", got)
	}
	if _, ok := s.Lookup("1:Booked"); ok {
		t.Error("Lookup() found dismissed alert")
	}

	// a later tick producing the same id keeps it hidden
	s.Reconcile([]types.Alert{candidate("1", types.StatusBooked), candidate("2", types.StatusBooked)}, at)
	if got := alertIDs(s.Visible()); !reflect.DeepEqual(got, []string{"2:Booked"}) {
		t.Errorf("Visible() after re-reconcile = %v", got)
	}

	// once the status changes the id is new and shows again
	s.Reconcile([]types.Alert{candidate("1", types.StatusInUse)}, at)
	if got := alertIDs(s.Visible()); !reflect.DeepEqual(got, []string{"1:InUse"}) {
		t.Errorf("Visible() after status change = %v", got)
	}
}

func TestStoreDismissUnknown(t *testing.T) {
	s := NewStore()
	if s.Dismiss("missing:Booked") {
		t.Error("Dismiss() of unknown id returned true")
	}
	if !s.IsDismissed("missing:Booked") {
		t.Error("unknown id should still be recorded as dismissed")
	}
	if s.DismissedCount() != 1 {
		t.Errorf("DismissedCount() = %d, want 1", s.DismissedCount())
	}
}

func TestStoreVisibleIsCopy(t *testing.T) {
	s := NewStore()
	s.Reconcile([]types.Alert{candidate("1", types.StatusBooked)}, at)

	got := s.Visible()
	got[0].ID = "changed"
	if _, ok := s.Lookup("1:Booked"); !ok {
		t.Error("mutating Visible() result changed the store")
	}
}

func TestStoreHoldExpires(t *testing.T) {
	s := NewStore()
	alerts := []types.Alert{candidate("1", types.StatusInUse), candidate("2", types.StatusBooked)}
	s.Reconcile(alerts, at)

	s.Hold("1:InUse", at.Add(5*time.Minute))
	if _, ok := s.Lookup("1:InUse"); ok {
		t.Fatal("held alert still visible")
	}

	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"inside hold", at.Add(4 * time.Minute), []string{"2:Booked"}},
		{"hold ended", at.Add(5 * time.Minute), []string{"1:InUse", "2:Booked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alertIDs(s.Reconcile(alerts, tt.now)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Reconcile() = %v, want %v", got, tt.want)
			}
		})
	}

	if s.IsHeld("1:InUse", at) || s.IsDismissed("1:InUse") {
		t.Error("expired hold should leave no trace")
	}
}
