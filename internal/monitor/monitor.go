// Package monitor runs the booking lifecycle monitor: one loop goroutine
// that owns the booking set, the alert store and the dispatcher, and
// publishes an immutable view for readers.
package monitor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boardwatch/boardwatch/internal/alerter"
	"github.com/boardwatch/boardwatch/internal/evaluator"
	"github.com/boardwatch/boardwatch/internal/scheduler"
	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrStopped is returned once the monitor loop has exited or was never started
var ErrStopped = errors.New("monitor stopped")

// Options tunes the monitor
type Options struct {
	TickInterval time.Duration
	GraceWindow  time.Duration
	Rules        evaluator.Rules
}

// DefaultOptions returns the canonical tick, grace and rule windows
func DefaultOptions() Options {
	return Options{
		TickInterval: 60 * time.Second,
		GraceWindow:  5 * time.Minute,
		Rules:        evaluator.DefaultRules(),
	}
}

// Deps are the collaborators of a monitor. Observer and Reporter may be nil.
type Deps struct {
	Clock    clockwork.Clock
	Mutator  alerter.Mutator
	Observer alerter.StatusObserver
	Reporter alerter.ErrorReporter
	Log      zerolog.Logger
}

// RenderedAlert is an alert prepared for the presentation layer
type RenderedAlert struct {
	ID               string           `json:"id"`
	BookingID        string           `json:"bookingId"`
	ClientName       string           `json:"clientName"`
	Type             types.AlertType  `json:"type"`
	Message          string           `json:"message"`
	TimeLeftMinutes  int              `json:"timeLeftMinutes"`
	Priority         types.Priority   `json:"priority"`
	AvailableActions []alerter.Action `json:"availableActions"`
	Pending          bool             `json:"pending"`
	Settling         bool             `json:"settling"`
}

// View is the published state of one evaluation. Views are never modified
// after publication.
type View struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Alerts      []RenderedAlert `json:"alerts"`
	Bookings    int             `json:"bookings"`
	Dismissed   int             `json:"dismissed"`
	InFlight    int             `json:"inFlight"`
	Skipped     int             `json:"skipped"`
}

// Monitor evaluates bookings on a fixed interval and executes operator actions
type Monitor struct {
	opts    Options
	log     zerolog.Logger
	clock   clockwork.Clock
	tracker *alerter.UpdateTracker

	// owned by the loop goroutine
	store      *alerter.Store
	dispatcher *alerter.Dispatcher
	bookings   []types.Booking
	acked      map[string]types.Booking
	skipped    map[string]string

	task      *scheduler.Task
	startOnce sync.Once
	stopOnce  sync.Once
	view      atomic.Pointer[View]

	subsMu  sync.Mutex
	subs    map[int]chan View
	nextSub int
	closed  bool
}

// New creates a monitor. Nothing runs until Start.
func New(opts Options, deps Deps) *Monitor {
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = def.GraceWindow
	}
	if opts.Rules == (evaluator.Rules{}) {
		opts.Rules = def.Rules
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	log := deps.Log.With().Str("component", "monitor").Logger()
	m := &Monitor{
		opts:    opts,
		log:     log,
		clock:   deps.Clock,
		tracker: alerter.NewUpdateTracker(deps.Log, opts.GraceWindow),
		store:   alerter.NewStore(),
		acked:   make(map[string]types.Booking),
		skipped: make(map[string]string),
		subs:    make(map[int]chan View),
	}

	m.dispatcher = alerter.NewDispatcher(deps.Log, deps.Mutator, m.store, m.tracker, m.post)
	m.dispatcher.SetOnApplied(m.applied)
	m.dispatcher.SetObserver(deps.Observer)
	m.dispatcher.SetReporter(deps.Reporter)

	m.view.Store(&View{Alerts: []RenderedAlert{}})
	return m
}

// Start launches the loop; the first evaluation runs immediately
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.log.Info().
			Dur("interval", m.opts.TickInterval).
			Dur("grace", m.opts.GraceWindow).
			Msg("starting booking monitor")
		m.task = scheduler.Start(m.clock, m.opts.TickInterval, m.evaluate, m.log)
	})
}

// Stop cancels the loop and waits for it. Mutation results that arrive
// afterwards are dropped. Subscriber channels are closed.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.task != nil {
			m.task.Stop()
		}

		m.subsMu.Lock()
		m.closed = true
		for id, ch := range m.subs {
			close(ch)
			delete(m.subs, id)
		}
		m.subsMu.Unlock()

		m.log.Info().Msg("booking monitor stopped")
	})
}

func (m *Monitor) post(fn func(now time.Time)) bool {
	if m.task == nil {
		return false
	}
	return m.task.Do(fn)
}

// call runs fn on the loop and waits for it to finish
func (m *Monitor) call(fn func(now time.Time)) error {
	done := make(chan struct{})
	if !m.post(func(now time.Time) {
		defer close(done)
		fn(now)
	}) {
		return ErrStopped
	}
	<-done
	return nil
}

// SetBookings replaces the booking set and re-evaluates at once.
// Bookings this monitor changed within the grace window keep their
// acknowledged state until the source catches up.
func (m *Monitor) SetBookings(bookings []types.Booking) error {
	next := make([]types.Booking, len(bookings))
	copy(next, bookings)

	return m.call(func(now time.Time) {
		for i, b := range next {
			ack, ok := m.acked[b.ID]
			if !ok || !m.tracker.IsRecent(b.ID, now) {
				continue
			}
			if ack.Status != b.Status || ack.DurationInHours != b.DurationInHours {
				m.log.Debug().Str("booking_id", b.ID).Msg("keeping acknowledged booking over stale source data")
			}
			next[i] = ack
		}
		m.bookings = next
		m.evaluate(now)
	})
}

// Refresh re-evaluates immediately and waits for the new view
func (m *Monitor) Refresh() error {
	return m.call(m.evaluate)
}

// Trigger asks for an evaluation without waiting for it
func (m *Monitor) Trigger() {
	if m.task != nil {
		m.task.Trigger()
	}
}

// Dismiss closes a visible alert until its booking changes status
func (m *Monitor) Dismiss(alertID string) error {
	var err error
	callErr := m.call(func(now time.Time) {
		if _, ok := m.store.Lookup(alertID); !ok {
			err = alerter.ErrAlertNotFound
			return
		}
		m.store.Dismiss(alertID)
		m.log.Info().Str("alert_id", alertID).Msg("alert dismissed")
		m.publish(now)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Act submits an operator action for a visible alert. The returned command
// reports the backend's outcome on its Done channel.
func (m *Monitor) Act(alertID string, action alerter.Action) (*alerter.Command, error) {
	var (
		cmd *alerter.Command
		err error
	)
	callErr := m.call(func(now time.Time) {
		cmd, err = m.dispatcher.Dispatch(alertID, action, now)
		if err == nil {
			m.publish(now)
		}
	})
	if callErr != nil {
		return nil, callErr
	}
	return cmd, err
}

// View returns the latest published view
func (m *Monitor) View() View {
	return *m.view.Load()
}

// Alerts returns the visible alerts of the latest view
func (m *Monitor) Alerts() []RenderedAlert {
	return m.view.Load().Alerts
}

// RecentlyUpdated reports whether this monitor changed the booking within the grace window
func (m *Monitor) RecentlyUpdated(bookingID string) bool {
	return m.tracker.IsRecent(bookingID, m.clock.Now())
}

// Updates returns recently updated booking ids with their grace expiry
func (m *Monitor) Updates() map[string]time.Time {
	return m.tracker.Snapshot(m.clock.Now())
}

// TrackedUpdates returns the number of tracker entries, expired or not
func (m *Monitor) TrackedUpdates() int {
	return m.tracker.Len()
}

// Subscribe returns a channel receiving every new view. Slow readers only
// see the latest one. The cancel func must be called when done.
func (m *Monitor) Subscribe() (<-chan View, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	ch := make(chan View, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- *m.view.Load()

	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

// evaluate is the tick function
func (m *Monitor) evaluate(now time.Time) {
	if n := m.tracker.Prune(now); n > 0 {
		m.log.Debug().Int("pruned", n).Msg("expired update tracker entries")
	}
	for id := range m.acked {
		if !m.tracker.IsRecent(id, now) {
			delete(m.acked, id)
		}
	}

	m.noteSkipped()
	m.store.Reconcile(m.opts.Rules.Evaluate(m.bookings, now), now)
	m.publish(now)
}

// noteSkipped logs malformed bookings once per distinct problem
func (m *Monitor) noteSkipped() {
	seen := make(map[string]string)
	for _, b := range m.bookings {
		err := evaluator.Validate(b)
		if err == nil {
			continue
		}
		seen[b.ID] = err.Error()
		if m.skipped[b.ID] != err.Error() {
			m.log.Warn().Err(err).Str("booking_id", b.ID).Msg("skipping malformed booking")
		}
	}
	m.skipped = seen
}

// applied merges an acknowledged booking into the local set
func (m *Monitor) applied(b types.Booking) {
	m.acked[b.ID] = b

	replaced := false
	for i := range m.bookings {
		if m.bookings[i].ID == b.ID {
			m.bookings[i] = b
			replaced = true
			break
		}
	}
	if !replaced {
		m.bookings = append(m.bookings, b)
	}
	m.task.Trigger()
}

func (m *Monitor) publish(now time.Time) {
	visible := m.store.Visible()
	v := &View{
		GeneratedAt: now,
		Alerts:      make([]RenderedAlert, 0, len(visible)),
		Bookings:    len(m.bookings),
		Dismissed:   m.store.DismissedCount(),
		InFlight:    m.dispatcher.Pending(),
		Skipped:     len(m.skipped),
	}
	for _, a := range visible {
		v.Alerts = append(v.Alerts, m.render(a, now))
	}
	m.view.Store(v)
	m.broadcast(*v)
}

func (m *Monitor) render(a types.Alert, now time.Time) RenderedAlert {
	r := RenderedAlert{
		ID:               a.ID,
		BookingID:        a.Booking.ID,
		ClientName:       a.Booking.ClientName,
		Type:             a.Type,
		Message:          a.Message,
		TimeLeftMinutes:  a.TimeLeftMinutes,
		Priority:         a.Priority,
		AvailableActions: []alerter.Action{},
		Pending:          m.dispatcher.InFlight(a.ID),
		Settling:         m.tracker.IsRecent(a.Booking.ID, now),
	}
	// actions stay hidden until the pending command resolves
	if !r.Pending {
		if actions := alerter.AvailableActions(a); actions != nil {
			r.AvailableActions = actions
		}
	}
	return r
}

func (m *Monitor) broadcast(v View) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
