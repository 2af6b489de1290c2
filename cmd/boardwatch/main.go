package main

import (
	"context"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/boardwatch/boardwatch/internal/alerter"
	"github.com/boardwatch/boardwatch/internal/api"
	"github.com/boardwatch/boardwatch/internal/backend"
	"github.com/boardwatch/boardwatch/internal/config"
	"github.com/boardwatch/boardwatch/internal/evaluator"
	"github.com/boardwatch/boardwatch/internal/logbuf"
	"github.com/boardwatch/boardwatch/internal/monitor"
	"github.com/boardwatch/boardwatch/internal/notifier"
	"github.com/boardwatch/boardwatch/internal/sentryutil"
	"github.com/boardwatch/boardwatch/internal/source"
	"github.com/boardwatch/boardwatch/internal/store"
	"github.com/boardwatch/boardwatch/internal/version"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type bookingBackend interface {
	source.Lister
	alerter.Mutator
}

func main() {
	configPath := flag.String("config", "boardwatch.yaml", "Path to configuration file (empty for defaults and environment only)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	// Keep the last 1000 log lines for /api/logs
	logBuffer := logbuf.New(1000)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	logger := zerolog.New(multiWriter).With().
		Timestamp().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", *configPath).
			Msg("Failed to load configuration")
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	logger.Info().Str("version", version.Full()).Msg("Starting boardwatch")

	release := cfg.Sentry.Release
	if release == "" {
		release = version.Release()
	}
	sentryutil.Init(sentryutil.Options{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     release,
	}, logger)
	defer sentryutil.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		bookings  bookingBackend
		bookingDB *store.Store
	)
	switch cfg.Backend.Type {
	case config.BackendSQLite:
		bookingDB, err = store.Open(ctx, cfg.Backend.SQLitePath, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Backend.SQLitePath).Msg("Failed to open booking store")
		}
		if cfg.Backend.SeedFile != "" {
			if err := seedStore(ctx, bookingDB, cfg.Backend.SeedFile); err != nil {
				logger.Fatal().Err(err).Str("seed_file", cfg.Backend.SeedFile).Msg("Failed to seed booking store")
			}
		}
		bookings = bookingDB
	default:
		bookings = backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	}
	logger.Info().Str("backend", cfg.Backend.Type).Msg("Booking backend configured")

	var (
		publisher *notifier.StatusPublisher
		observer  alerter.StatusObserver
	)
	if cfg.Events.KafkaBrokers != "" {
		publisher, err = notifier.NewStatusPublisher(cfg.Events.KafkaBrokers, cfg.Events.StatusTopic, cfg.Events.Source, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Status events disabled")
		} else {
			observer = publisher.Observer()
		}
	}

	mon := monitor.New(monitor.Options{
		TickInterval: cfg.Monitor.TickInterval,
		GraceWindow:  cfg.Monitor.GraceWindow,
		Rules: evaluator.Rules{
			UpcomingWindow: cfg.Monitor.UpcomingWindow,
			UrgentWindow:   cfg.Monitor.UrgentWindow,
			ReturnWindow:   cfg.Monitor.ReturnWindow,
		},
	}, monitor.Deps{
		Clock:    clockwork.NewRealClock(),
		Mutator:  bookings,
		Observer: observer,
		Reporter: sentryutil.Reporter{},
		Log:      logger,
	})
	mon.Start()

	poller := source.NewPoller(bookings, mon.SetBookings, cfg.Backend.PollInterval, logger)
	poller.SetMaxBackoff(cfg.Backend.MaxBackoff)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	apiServer := api.NewServer(mon, logger, cfg.API.Port)
	apiServer.SetLogBuffer(logBuffer)
	apiServer.SetSourceHealth(poller.Health)
	apiServer.SetRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().
				Err(err).
				Msg("API server error")
			stop()
		}
	}()

	var healthServer *api.HealthServer
	if cfg.API.GRPCHealthPort != 0 {
		addr := ":" + strconv.Itoa(cfg.API.GRPCHealthPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error().Err(err).Str("address", addr).Msg("gRPC health server disabled")
		} else {
			healthServer = api.NewHealthServer(logger)
			go func() {
				if err := healthServer.Serve(lis); err != nil {
					logger.Error().Err(err).Msg("gRPC health server error")
				}
			}()
			healthServer.SetServing(true)
		}
	}

	logger.Info().
		Int("port", cfg.API.Port).
		Dur("tick_interval", cfg.Monitor.TickInterval).
		Msg("boardwatch running, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	if healthServer != nil {
		healthServer.SetServing(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down API server")
	}

	wg.Wait()
	mon.Stop()

	if healthServer != nil {
		healthServer.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing status publisher")
		}
	}
	if bookingDB != nil {
		if err := bookingDB.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing booking store")
		}
	}

	logger.Info().Msg("boardwatch stopped")
}

func seedStore(ctx context.Context, st *store.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = st.ImportJSON(ctx, f)
	return err
}
