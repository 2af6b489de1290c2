// Package sentryutil wraps sentry-go as the error sink for failures
// nobody is waiting on, such as rejected booking updates.
package sentryutil

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Options configures the Sentry client. An empty DSN disables sending.
type Options struct {
	DSN         string
	Environment string
	Release     string

	beforeSend func(*sentry.Event) *sentry.Event
}

// Init configures the global Sentry client. Failure is logged, not fatal.
func Init(opts Options, log zerolog.Logger) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			if opts.beforeSend != nil {
				return opts.beforeSend(event)
			}
			return event
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("sentry init failed, error tracking disabled")
		return
	}
	if opts.DSN == "" {
		log.Info().Msg("sentry DSN empty, error tracking disabled")
		return
	}
	log.Info().Str("environment", opts.Environment).Msg("sentry initialized")
}

// Flush waits for buffered events
func Flush() { sentry.Flush(2 * time.Second) }

// CaptureError sends err with tags; nil is ignored
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CaptureMessage sends a message at the given level
func CaptureMessage(msg string, level sentry.Level, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureMessage(msg)
	})
}

// Reporter satisfies the dispatcher's error reporter with the global client
type Reporter struct{}

// CaptureError forwards to the package level CaptureError
func (Reporter) CaptureError(err error, tags map[string]string) {
	CaptureError(err, tags)
}
