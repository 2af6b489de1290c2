package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/boardwatch/boardwatch/internal/alerter"
	"github.com/boardwatch/boardwatch/internal/logbuf"
	"github.com/boardwatch/boardwatch/internal/monitor"
	"github.com/boardwatch/boardwatch/internal/source"
	"github.com/boardwatch/boardwatch/internal/version"
	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultActionTimeout = 30 * time.Second
	limiterIdleTTL       = 10 * time.Minute
	maxLimiters          = 10000
)

// Monitor is the part of the booking monitor the API drives
type Monitor interface {
	View() monitor.View
	Dismiss(alertID string) error
	Act(alertID string, action alerter.Action) (*alerter.Command, error)
	Updates() map[string]time.Time
	TrackedUpdates() int
	Subscribe() (<-chan monitor.View, func())
}

// SourceHealthFunc reports the booking poller state
type SourceHealthFunc func() source.Health

// Server provides the HTTP API for the presentation layer
type Server struct {
	monitor       Monitor
	logger        zerolog.Logger
	port          int
	logBuffer     *logbuf.Buffer
	startTime     time.Time
	sourceHealth  SourceHealthFunc
	actionTimeout time.Duration
	upgrader      websocket.Upgrader

	rps       rate.Limit
	burst     int
	limiters  map[string]*clientLimiter
	limiterMu sync.Mutex
	lastSweep time.Time
	now       func() time.Time

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(mon Monitor, logger zerolog.Logger, port int) *Server {
	return &Server{
		monitor:       mon,
		logger:        logger.With().Str("component", "api").Logger(),
		port:          port,
		startTime:     time.Now(),
		actionTimeout: defaultActionTimeout,
		limiters:      make(map[string]*clientLimiter),
		now:           time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetLogBuffer sets the buffer served on /api/logs
func (s *Server) SetLogBuffer(lb *logbuf.Buffer) {
	s.logBuffer = lb
}

// SetSourceHealth sets the poller health reported on /status
func (s *Server) SetSourceHealth(fn SourceHealthFunc) {
	s.sourceHealth = fn
}

// SetRateLimit limits mutating requests per client IP. rps <= 0 disables it.
func (s *Server) SetRateLimit(rps float64, burst int) {
	s.rps = rate.Limit(rps)
	s.burst = burst
}

// SetActionTimeout bounds how long an action request waits for the backend
func (s *Server) SetActionTimeout(d time.Duration) {
	s.actionTimeout = d
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("POST /alerts/{id}/dismiss", s.limited(s.handleDismiss))
	mux.HandleFunc("POST /alerts/{id}/actions/{action}", s.limited(s.handleAction))
	mux.HandleFunc("GET /updates", s.handleUpdates)
	mux.HandleFunc("GET /api/logs", s.handleLogsAPI)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	return s.recovery(mux)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := ":" + strconv.Itoa(s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("address", addr).Msg("starting API server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns current state summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.monitor.View()
	status := map[string]interface{}{
		"active_alerts":   len(view.Alerts),
		"bookings":        view.Bookings,
		"dismissed":       view.Dismissed,
		"in_flight":       view.InFlight,
		"skipped":         view.Skipped,
		"tracked_updates": s.monitor.TrackedUpdates(),
		"last_evaluation": view.GeneratedAt,
		"time":            time.Now().UTC().Format(time.RFC3339),
		"uptime":          time.Since(s.startTime).Round(time.Second).String(),
		"build":           version.Info(),
	}
	if s.sourceHealth != nil {
		status["source"] = s.sourceHealth()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleAlerts returns the visible alerts
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	view := s.monitor.View()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":      view.Alerts,
		"count":       len(view.Alerts),
		"generatedAt": view.GeneratedAt,
	})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.monitor.Dismiss(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dismissed": id})
}

// handleAction submits an operator action and waits for the backend outcome.
// If the backend is slower than the action timeout the command is reported
// as accepted; its result is still applied when it arrives.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, err := alerter.ParseAction(r.PathValue("action"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	cmd, err := s.monitor.Act(id, action)
	if err != nil {
		s.writeError(w, err)
		return
	}

	timer := time.NewTimer(s.actionTimeout)
	defer timer.Stop()

	select {
	case out := <-cmd.Done():
		if out.Err != nil {
			s.writeError(w, out.Err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"commandId": cmd.ID,
			"alertId":   cmd.AlertID,
			"action":    cmd.Action,
			"booking":   out.Booking,
		})
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"commandId": cmd.ID,
			"alertId":   cmd.AlertID,
			"action":    cmd.Action,
			"pending":   true,
		})
	case <-r.Context().Done():
		s.logger.Debug().Str("command_id", cmd.ID).Msg("client left before action completed")
	}
}

// handleUpdates lists bookings changed by this monitor within the grace window
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	type update struct {
		BookingID string    `json:"bookingId"`
		Until     time.Time `json:"until"`
	}
	updates := make([]update, 0)
	for id, until := range s.monitor.Updates() {
		updates = append(updates, update{BookingID: id, Until: until})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].BookingID < updates[j].BookingID })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updates": updates,
		"count":   len(updates),
	})
}

// handleLogsAPI returns recent log entries as JSON
func (s *Server) handleLogsAPI(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	level := zerolog.DebugLevel
	if v := r.URL.Query().Get("level"); v != "" {
		lvl, err := zerolog.ParseLevel(v)
		if err != nil {
			http.Error(w, "invalid level", http.StatusBadRequest)
			return
		}
		level = lvl
	}

	entries := []logbuf.Entry{}
	if s.logBuffer != nil {
		entries = s.logBuffer.Recent(limit, level)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleWebsocket streams every published view until the client goes away
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	views, cancel := s.monitor.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case v, ok := <-views:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped"))
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-gone:
			return
		}
	}
}

// limited applies the per-IP rate limit to mutating routes
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rps > 0 && !s.limiterFor(clientIP(r)).Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= time.Minute {
		s.sweepLimiters(now)
	}

	l, ok := s.limiters[ip]
	if !ok {
		if len(s.limiters) >= maxLimiters {
			s.logger.Warn().Int("limiters", len(s.limiters)).Msg("rate limiter table full, resetting")
			s.limiters = make(map[string]*clientLimiter)
		}
		burst := s.burst
		if burst < 1 {
			burst = 1
		}
		l = &clientLimiter{limiter: rate.NewLimiter(s.rps, burst)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}

// sweepLimiters drops limiters of clients idle for limiterIdleTTL
func (s *Server) sweepLimiters(now time.Time) {
	s.lastSweep = now
	for ip, l := range s.limiters {
		if now.Sub(l.lastSeen) >= limiterIdleTTL {
			delete(s.limiters, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// recovery turns handler panics into 500s and reports them to Sentry
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Interface("panic", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("handler panic")
				hub := sentry.GetHubFromContext(r.Context())
				if hub == nil {
					hub = sentry.CurrentHub().Clone()
				}
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("endpoint", r.URL.Path)
					scope.SetTag("method", r.Method)
					scope.SetLevel(sentry.LevelFatal)
					hub.RecoverWithContext(r.Context(), err)
				})
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Warn().Err(err).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps monitor and dispatcher errors onto HTTP status codes
func statusFor(err error) int {
	var merr alerter.MutationError
	switch {
	case errors.Is(err, alerter.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, alerter.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, alerter.ErrActionNotApplicable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, alerter.ErrActionInFlight):
		return http.StatusConflict
	case errors.Is(err, monitor.ErrStopped), errors.Is(err, alerter.ErrDiscarded):
		return http.StatusServiceUnavailable
	case errors.As(err, &merr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
