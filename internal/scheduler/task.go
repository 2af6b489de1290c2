// Package scheduler runs a recurring job on a single owned goroutine.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every tick with the clock's current time
type TickFunc func(now time.Time)

// Task fires its TickFunc once on start and then every interval.
// Everything a Task runs, ticks and Do callbacks alike, runs on one goroutine.
type Task struct {
	clock    clockwork.Clock
	ticker   clockwork.Ticker
	interval time.Duration
	tick     TickFunc
	log      zerolog.Logger

	trigger chan struct{}
	inbox   chan func(time.Time)
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Start creates the ticker and launches the loop.
// The ticker exists before Start returns, so a fake clock may be advanced right away.
func Start(c clockwork.Clock, interval time.Duration, tick TickFunc, log zerolog.Logger) *Task {
	t := &Task{
		clock:    c,
		ticker:   c.NewTicker(interval),
		interval: interval,
		tick:     tick,
		log:      log.With().Str("component", "scheduler").Logger(),
		trigger:  make(chan struct{}, 1),
		inbox:    make(chan func(time.Time)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	t.log.Debug().Dur("interval", interval).Msg("task started")
	go t.run()
	return t
}

func (t *Task) run() {
	defer close(t.done)
	defer t.ticker.Stop()

	t.fire()
	for {
		select {
		case <-t.stop:
			t.log.Debug().Msg("task stopped")
			return
		case <-t.ticker.Chan():
			t.fire()
		case <-t.trigger:
			t.fire()
		case fn := <-t.inbox:
			fn(t.clock.Now())
		}
	}
}

func (t *Task) fire() {
	t.tick(t.clock.Now())
}

// Trigger requests an extra tick as soon as possible.
// Requests made while one is already pending are merged.
func (t *Task) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// Do runs fn on the task goroutine and reports whether it was accepted.
// It returns false once the task is stopping; fn is then never run.
// Do must not be called from inside a TickFunc or another Do callback.
func (t *Task) Do(fn func(now time.Time)) bool {
	select {
	case <-t.stop:
		return false
	default:
	}
	select {
	case t.inbox <- fn:
		return true
	case <-t.stop:
		return false
	}
}

// Stop cancels the recurring trigger and waits for the loop to exit.
// No TickFunc runs after Stop returns. Safe to call more than once.
func (t *Task) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

// Done is closed when the loop has exited
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Interval returns the tick period
func (t *Task) Interval() time.Duration {
	return t.interval
}
