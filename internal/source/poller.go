// Package source keeps the monitor's booking set fresh by polling a lister.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultInterval   = 30 * time.Second
	defaultMaxBackoff = 5 * time.Minute
	pollTimeout       = 20 * time.Second
)

// Lister returns the current booking set
type Lister interface {
	ListBookings(ctx context.Context) ([]types.Booking, error)
}

// Sink receives every successfully fetched booking set
type Sink func(bookings []types.Booking) error

// Health tracks poll state for the status endpoint
type Health struct {
	LastPoll     time.Time `json:"lastPoll"`
	LastSuccess  time.Time `json:"lastSuccess"`
	LastError    string    `json:"lastError,omitempty"`
	PollCount    int64     `json:"pollCount"`
	FailureCount int64     `json:"failureCount"`
	BookingCount int       `json:"bookingCount"`
}

// Poller fetches bookings on an interval and pushes them into a sink.
// Consecutive failures back off exponentially up to a cap.
type Poller struct {
	lister     Lister
	sink       Sink
	interval   time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger

	mu       sync.RWMutex
	health   Health
	failures int
	retry    *backoff.ExponentialBackOff
	delay    time.Duration
}

// NewPoller creates a poller
func NewPoller(lister Lister, sink Sink, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		lister:     lister,
		sink:       sink,
		interval:   interval,
		maxBackoff: defaultMaxBackoff,
		logger:     logger.With().Str("component", "source").Logger(),
		retry:      newRetry(interval, defaultMaxBackoff),
		delay:      interval,
	}
}

// SetMaxBackoff caps the delay between failing polls
func (p *Poller) SetMaxBackoff(d time.Duration) {
	if d < p.interval {
		d = p.interval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxBackoff = d
	p.retry = newRetry(p.interval, d)
}

// Health returns the current poll state
func (p *Poller) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Run polls immediately and then until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("booking poller started")
	for {
		_ = p.PollOnce(ctx)

		delay := p.nextDelay()
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("booking poller stopped")
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// PollOnce fetches the booking set once and hands it to the sink
func (p *Poller) PollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	bookings, err := p.lister.ListBookings(pollCtx)
	now := time.Now()

	p.mu.Lock()
	p.health.LastPoll = now
	p.health.PollCount++
	if err != nil {
		p.failures++
		p.health.FailureCount++
		p.health.LastError = err.Error()
		p.delay = p.retry.NextBackOff()
		failures, delay := p.failures, p.delay
		p.mu.Unlock()

		p.logger.Warn().
			Err(err).
			Int("consecutive_failures", failures).
			Dur("retry_in", delay).
			Msg("booking poll failed")
		return err
	}
	if p.failures > 0 {
		p.logger.Info().Int("after_failures", p.failures).Msg("booking poll recovered")
	}
	p.failures = 0
	p.retry.Reset()
	p.delay = p.interval
	p.health.LastError = ""
	p.health.LastSuccess = now
	p.health.BookingCount = len(bookings)
	p.mu.Unlock()

	if err := p.sink(bookings); err != nil {
		p.logger.Warn().Err(err).Msg("booking set rejected by monitor")
		return err
	}
	p.logger.Debug().Int("bookings", len(bookings)).Msg("booking set refreshed")
	return nil
}

// nextDelay is the interval, or a jittered exponential backoff after failures
func (p *Poller) nextDelay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delay
}

// newRetry doubles from twice the interval up to ceiling with 10% jitter and never gives up
func newRetry(interval, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(2*interval, ceiling)
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
