package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boardwatch/boardwatch/internal/logbuf"
	"github.com/boardwatch/boardwatch/internal/monitor"
	"github.com/boardwatch/boardwatch/internal/source"
	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)

type stubBackend struct {
	mu   sync.Mutex
	err  error
	hold chan struct{}
}

func (s *stubBackend) UpdateBooking(_ context.Context, id string, patch types.Patch) (*types.Booking, error) {
	if s.hold != nil {
		<-s.hold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

type fixture struct {
	mon     *monitor.Monitor
	backend *stubBackend
	server  *Server
	handler http.Handler
}

func newFixture(t *testing.T, bookings ...types.Booking) *fixture {
	t.Helper()
	f := &fixture{backend: &stubBackend{}}
	f.mon = monitor.New(monitor.DefaultOptions(), monitor.Deps{
		Clock:   clockwork.NewFakeClockAt(t0),
		Mutator: f.backend,
		Log:     zerolog.Nop(),
	})
	f.mon.Start()
	t.Cleanup(f.mon.Stop)
	if err := f.mon.SetBookings(bookings); err != nil {
		t.Fatal(err)
	}
	f.server = NewServer(f.mon, zerolog.Nop(), 0)
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func booked(id string, start time.Time) types.Booking {
	return types.Booking{ID: id, Status: types.StatusBooked, ClientName: "Anna", PlannedStartTime: start, DurationInHours: 2}
}

func inUse(id string, start time.Time) types.Booking {
	return types.Booking{ID: id, Status: types.StatusInUse, ClientName: "Ben", PlannedStartTime: start, ActualStartTime: &start, DurationInHours: 2}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))
	f.server.SetSourceHealth(func() source.Health { return source.Health{PollCount: 3} })

	if rec := f.do(http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}

	rec := f.do(http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("/status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["active_alerts"].(float64) != 1 || body["bookings"].(float64) != 1 {
		t.Errorf("status = %v", body)
	}
	if _, ok := body["build"].(map[string]interface{})["version"]; !ok {
		t.Errorf("status missing build version: %v", body)
	}
	if body["source"].(map[string]interface{})["pollCount"].(float64) != 3 {
		t.Errorf("status source = %v", body["source"])
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)), booked("b2", t0.Add(-time.Minute)))

	rec := f.do(http.MethodGet, "/alerts")
	var body struct {
		Alerts []monitor.RenderedAlert `json:"alerts"`
		Count  int                     `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || body.Alerts[0].ID != "b2:Booked" || body.Alerts[0].Type != types.AlertOverdue {
		t.Errorf("alerts = %+v", body)
	}
	if len(body.Alerts[1].AvailableActions) == 0 {
		t.Error("alert rendered without actions")
	}

	if rec := f.do(http.MethodPost, "/alerts"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /alerts = %d, want 405", rec.Code)
	}
}

func TestDismiss(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))

	if rec := f.do(http.MethodPost, "/alerts/b1:Booked/dismiss"); rec.Code != http.StatusOK {
		t.Fatalf("dismiss = %d %s", rec.Code, rec.Body)
	}
	if n := len(f.mon.Alerts()); n != 0 {
		t.Errorf("alerts after dismiss = %d", n)
	}
	if rec := f.do(http.MethodPost, "/alerts/b1:Booked/dismiss"); rec.Code != http.StatusNotFound {
		t.Errorf("second dismiss = %d, want 404", rec.Code)
	}
}

func TestActionStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		backend  error
		wantCode int
	}{
		{"success", "/alerts/b1:Booked/actions/mark-in-use", nil, http.StatusOK},
		{"unknown alert", "/alerts/zz:Booked/actions/mark-in-use", nil, http.StatusNotFound},
		{"unknown action", "/alerts/b1:Booked/actions/teleport", nil, http.StatusBadRequest},
		{"not applicable", "/alerts/b1:Booked/actions/extend-time", nil, http.StatusUnprocessableEntity},
		{"backend failure", "/alerts/b1:Booked/actions/cancel", errors.New("boom"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))
			f.backend.err = tt.backend

			rec := f.do(http.MethodPost, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestActionSuccessBody(t *testing.T) {
	f := newFixture(t, inUse("b1", t0.Add(-115*time.Minute)))

	rec := f.do(http.MethodPost, "/alerts/b1:InUse/actions/extend-time")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["commandId"] == "" || body["action"] != "extend-time" {
		t.Errorf("body = %v", body)
	}
	if body["booking"].(map[string]interface{})["durationInHours"].(float64) != 3 {
		t.Errorf("booking = %v", body["booking"])
	}
}

func TestActionInFlightAndTimeout(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))
	f.backend.hold = make(chan struct{})
	defer close(f.backend.hold)
	f.server.SetActionTimeout(20 * time.Millisecond)

	rec := f.do(http.MethodPost, "/alerts/b1:Booked/actions/mark-in-use")
	if rec.Code != http.StatusAccepted || decode(t, rec)["pending"] != true {
		t.Fatalf("slow action = %d %s, want 202", rec.Code, rec.Body)
	}

	if rec := f.do(http.MethodPost, "/alerts/b1:Booked/actions/cancel"); rec.Code != http.StatusConflict {
		t.Errorf("second action = %d, want 409", rec.Code)
	}
}

func TestActionAfterStop(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))
	f.mon.Stop()

	if rec := f.do(http.MethodPost, "/alerts/b1:Booked/actions/cancel"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)), booked("b2", t0.Add(5*time.Minute)))
	f.server.SetRateLimit(0.001, 1)

	if rec := f.do(http.MethodPost, "/alerts/b1:Booked/dismiss"); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/alerts/b2:Booked/dismiss"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", rec.Code)
	}
	// reads are not limited
	if rec := f.do(http.MethodGet, "/alerts"); rec.Code != http.StatusOK {
		t.Errorf("GET /alerts = %d", rec.Code)
	}
}

func TestRateLimitEvictsIdleClients(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))
	f.server.SetRateLimit(100, 10)
	clock := t0
	f.server.now = func() time.Time { return clock }

	hit := func(ip string) {
		req := httptest.NewRequest(http.MethodPost, "/alerts/none:Booked/dismiss", nil)
		req.RemoteAddr = ip + ":4321"
		f.handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	for i := 0; i < 50; i++ {
		hit(fmt.Sprintf("10.0.0.%d", i))
	}
	if n := len(f.server.limiters); n != 50 {
		t.Fatalf("limiters = %d, want 50", n)
	}

	clock = clock.Add(5 * time.Minute)
	hit("10.0.0.1")
	clock = clock.Add(6 * time.Minute)
	hit("10.0.1.1")

	if n := len(f.server.limiters); n != 2 {
		t.Errorf("limiters after idle sweep = %d, want 2", n)
	}
	if _, ok := f.server.limiters["10.0.0.1"]; !ok {
		t.Error("recently active client was evicted")
	}
}

func TestUpdates(t *testing.T) {
	f := newFixture(t, booked("b2", t0.Add(5*time.Minute)), booked("b1", t0.Add(5*time.Minute)))
	for _, id := range []string{"b2", "b1"} {
		if rec := f.do(http.MethodPost, "/alerts/"+id+":Booked/actions/mark-in-use"); rec.Code != http.StatusOK {
			t.Fatalf("action on %s = %d", id, rec.Code)
		}
	}

	rec := f.do(http.MethodGet, "/updates")
	var body struct {
		Updates []struct {
			BookingID string    `json:"bookingId"`
			Until     time.Time `json:"until"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Updates) != 2 || body.Updates[0].BookingID != "b1" || !body.Updates[0].Until.Equal(t0.Add(5*time.Minute)) {
		t.Errorf("updates = %+v", body.Updates)
	}
}

func TestLogsAPI(t *testing.T) {
	f := newFixture(t)
	buf := logbuf.New(10)
	for _, lvl := range []string{"debug", "info", "error"} {
		fmt.Fprintf(buf, `{"level":%q,"message":"m-%s"}`, lvl, lvl)
	}
	f.server.SetLogBuffer(buf)

	body := decode(t, f.do(http.MethodGet, "/api/logs?level=info&limit=5"))
	if body["count"].(float64) != 2 {
		t.Errorf("logs = %v", body)
	}
	if rec := f.do(http.MethodGet, "/api/logs?limit=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rec.Code)
	}
}

type panicMonitor struct{ Monitor }

func (panicMonitor) View() monitor.View { panic("view exploded") }

func TestRecovery(t *testing.T) {
	s := NewServer(panicMonitor{}, zerolog.Nop(), 0)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}

func TestWebsocketStreamsViews(t *testing.T) {
	f := newFixture(t, booked("b1", t0.Add(5*time.Minute)))
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var v monitor.View
	if err := conn.ReadJSON(&v); err != nil {
		t.Fatalf("read initial view: %v", err)
	}
	if len(v.Alerts) != 1 {
		t.Errorf("initial view alerts = %d", len(v.Alerts))
	}

	if err := f.mon.Dismiss("b1:Booked"); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&v); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if len(v.Alerts) != 0 || v.Dismissed != 1 {
		t.Errorf("streamed view = %+v", v)
	}
}
