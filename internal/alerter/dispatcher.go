package alerter

import (
	"context"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mutator sends partial booking updates to the backend
type Mutator interface {
	UpdateBooking(ctx context.Context, id string, patch types.Patch) (*types.Booking, error)
}

// StatusObserver is told about every status change the dispatcher applied
type StatusObserver func(bookingID string, status types.Status)

// ErrorReporter receives dispatch failures for external tracking
type ErrorReporter interface {
	CaptureError(err error, tags map[string]string)
}

// PostFunc schedules fn on the goroutine that owns the store.
// It returns false when that goroutine is gone.
type PostFunc func(fn func(now time.Time)) bool

// Outcome is the single result of a command
type Outcome struct {
	CommandID string
	Booking   *types.Booking
	Err       error
}

// Command is one submitted action, carrying its target alert and payload
type Command struct {
	ID        string
	AlertID   string
	BookingID string
	Action    Action
	Patch     types.Patch
	IssuedAt  time.Time

	booking types.Booking
	done    chan Outcome
}

// Done delivers the outcome once, then is closed
func (c *Command) Done() <-chan Outcome {
	return c.done
}

func (c *Command) finish(o Outcome) {
	o.CommandID = c.ID
	c.done <- o
	close(c.done)
}

// Dispatcher turns operator actions into booking mutations.
// Dispatch and the completion callbacks run on the owner goroutine reached
// through PostFunc; only the backend call itself runs elsewhere.
type Dispatcher struct {
	log       zerolog.Logger
	mutator   Mutator
	store     *Store
	tracker   *UpdateTracker
	post      PostFunc
	observer  StatusObserver
	reporter  ErrorReporter
	onApplied func(types.Booking)
	inFlight  map[string]*Command // alert id -> pending command
}

// NewDispatcher creates a dispatcher bound to a store and tracker
func NewDispatcher(log zerolog.Logger, mutator Mutator, store *Store, tracker *UpdateTracker, post PostFunc) *Dispatcher {
	return &Dispatcher{
		log:      log.With().Str("component", "dispatcher").Logger(),
		mutator:  mutator,
		store:    store,
		tracker:  tracker,
		post:     post,
		inFlight: make(map[string]*Command),
	}
}

// SetObserver sets the callback for applied status changes
func (d *Dispatcher) SetObserver(fn StatusObserver) {
	d.observer = fn
}

// SetReporter sets the sink for failed mutations
func (d *Dispatcher) SetReporter(r ErrorReporter) {
	d.reporter = r
}

// SetOnApplied sets the callback that receives the acknowledged booking
func (d *Dispatcher) SetOnApplied(fn func(types.Booking)) {
	d.onApplied = fn
}

// Dispatch validates the action against the visible alert and submits it.
// A second action on an alert whose command is still pending is refused.
func (d *Dispatcher) Dispatch(alertID string, action Action, now time.Time) (*Command, error) {
	alert, ok := d.store.Lookup(alertID)
	if !ok {
		return nil, ErrAlertNotFound
	}
	if _, busy := d.inFlight[alertID]; busy {
		return nil, ErrActionInFlight
	}

	patch, err := BuildPatch(action, alert, now)
	if err != nil {
		return nil, err
	}

	cmd := &Command{
		ID:        uuid.NewString(),
		AlertID:   alertID,
		BookingID: alert.Booking.ID,
		Action:    action,
		Patch:     patch,
		IssuedAt:  now,
		booking:   alert.Booking,
		done:      make(chan Outcome, 1),
	}
	d.inFlight[alertID] = cmd

	d.log.Info().
		Str("command_id", cmd.ID).
		Str("alert_id", alertID).
		Str("booking_id", cmd.BookingID).
		Str("action", string(action)).
		Msg("submitting booking update")

	go d.submit(cmd)
	return cmd, nil
}

func (d *Dispatcher) submit(cmd *Command) {
	updated, err := d.mutator.UpdateBooking(context.Background(), cmd.BookingID, cmd.Patch)

	accepted := d.post(func(now time.Time) {
		d.complete(cmd, updated, err, now)
	})
	if !accepted {
		d.log.Debug().
			Str("command_id", cmd.ID).
			Str("alert_id", cmd.AlertID).
			Msg("discarding booking update result after shutdown")
		cmd.finish(Outcome{Err: ErrDiscarded})
	}
}

// complete applies a mutation result; nothing changes unless it succeeded
func (d *Dispatcher) complete(cmd *Command, updated *types.Booking, err error, now time.Time) {
	delete(d.inFlight, cmd.AlertID)

	if err != nil {
		merr := MutationError{BookingID: cmd.BookingID, Action: cmd.Action, Err: err}
		d.log.Error().
			Err(err).
			Str("command_id", cmd.ID).
			Str("alert_id", cmd.AlertID).
			Str("booking_id", cmd.BookingID).
			Str("action", string(cmd.Action)).
			Msg("booking update failed")
		if d.reporter != nil {
			d.reporter.CaptureError(merr, map[string]string{
				"component":  "dispatcher",
				"action":     string(cmd.Action),
				"booking_id": cmd.BookingID,
			})
		}
		cmd.finish(Outcome{Err: merr})
		return
	}

	booking := cmd.Patch.Apply(cmd.booking)
	if updated != nil {
		booking = *updated
	}

	until := d.tracker.Record(cmd.BookingID, now)
	if _, changed := cmd.Patch.StatusChange(); changed {
		d.store.Dismiss(cmd.AlertID)
	} else {
		// the alert id survives an unchanged status, so only hold it
		d.store.Hold(cmd.AlertID, until)
	}
	if d.onApplied != nil {
		d.onApplied(booking)
	}
	if status, ok := cmd.Patch.StatusChange(); ok && d.observer != nil {
		d.observer(cmd.BookingID, status)
	}

	d.log.Info().
		Str("command_id", cmd.ID).
		Str("alert_id", cmd.AlertID).
		Str("booking_id", cmd.BookingID).
		Str("status", string(booking.Status)).
		Dur("latency", now.Sub(cmd.IssuedAt)).
		Msg("booking updated")
	cmd.finish(Outcome{Booking: &booking})
}

// InFlight reports whether a command for the alert is pending
func (d *Dispatcher) InFlight(alertID string) bool {
	_, ok := d.inFlight[alertID]
	return ok
}

// Pending returns the number of commands awaiting a result
func (d *Dispatcher) Pending() int {
	return len(d.inFlight)
}
