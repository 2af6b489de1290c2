// Package store keeps bookings in a local SQLite database. It serves as
// the booking source and the mutation backend when no booking service is
// available.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrBookingNotFound is returned for an unknown booking id
var ErrBookingNotFound = errors.New("booking not found")

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id                      TEXT PRIMARY KEY,
	status                  TEXT NOT NULL,
	client_name             TEXT NOT NULL DEFAULT '',
	planned_start_time      TEXT NOT NULL,
	actual_start_time       TEXT,
	duration_in_hours       REAL NOT NULL DEFAULT 0,
	time_returned_by_client TEXT,
	updated_at              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);
`

const selectColumns = `SELECT id, status, client_name, planned_start_time, actual_start_time, duration_in_hours, time_returned_by_client FROM bookings`

// Store is a SQLite backed booking repository
type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens (and creates if needed) the database at path and applies the schema
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info().Str("path", path).Msg("booking store opened")
	return s, nil
}

// New wraps an open handle
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
		now: time.Now,
	}
}

// Migrate applies the schema
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListBookings returns every booking ordered by planned start.
// Rows that cannot be read back into a booking are logged and skipped.
func (s *Store) ListBookings(ctx context.Context) ([]types.Booking, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY planned_start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []types.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			s.log.Warn().Err(err).Str("booking_id", b.ID).Msg("skipping unreadable booking row")
			continue
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

// GetBooking returns one booking
func (s *Store) GetBooking(ctx context.Context, id string) (*types.Booking, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts a booking, replacing one with the same id
func (s *Store) CreateBooking(ctx context.Context, b types.Booking) error {
	if b.ID == "" {
		return errors.New("booking id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bookings (id, status, client_name, planned_start_time, actual_start_time, duration_in_hours, time_returned_by_client, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.Status), b.ClientName, formatTime(b.PlannedStartTime),
		nullTime(b.ActualStartTime), b.DurationInHours, nullTime(b.TimeReturnedByClient),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	return nil
}

// ImportJSON inserts every booking of a JSON array, e.g. a desk's seed file
func (s *Store) ImportJSON(ctx context.Context, r io.Reader) (int, error) {
	var bookings []types.Booking
	if err := json.NewDecoder(r).Decode(&bookings); err != nil {
		return 0, fmt.Errorf("decode bookings: %w", err)
	}
	for i, b := range bookings {
		if err := s.CreateBooking(ctx, b); err != nil {
			return i, err
		}
	}
	s.log.Info().Int("bookings", len(bookings)).Msg("bookings imported")
	return len(bookings), nil
}

// UpdateBooking applies the non-nil patch fields and returns the stored booking
func (s *Store) UpdateBooking(ctx context.Context, id string, patch types.Patch) (*types.Booking, error) {
	var (
		sets []string
		args []any
	)
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.ActualStartTime != nil {
		sets = append(sets, "actual_start_time = ?")
		args = append(args, formatTime(*patch.ActualStartTime))
	}
	if patch.TimeReturnedByClient != nil {
		sets = append(sets, "time_returned_by_client = ?")
		args = append(args, formatTime(*patch.TimeReturnedByClient))
	}
	if patch.DurationInHours != nil {
		sets = append(sets, "duration_in_hours = ?")
		args = append(args, *patch.DurationInHours)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("empty patch for booking %s", id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), id)

	query := "UPDATE bookings SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update booking %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update booking %s: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}

	s.log.Debug().Str("booking_id", id).Int("fields", len(sets)-1).Msg("booking updated")
	return s.GetBooking(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(sc scanner) (types.Booking, error) {
	var (
		b                types.Booking
		status, planned  string
		actual, returned sql.NullString
	)
	if err := sc.Scan(&b.ID, &status, &b.ClientName, &planned, &actual, &b.DurationInHours, &returned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("scan booking: %w", err)
	}
	b.Status = types.Status(status)

	var err error
	if b.PlannedStartTime, err = parseTime(planned); err != nil {
		return b, fmt.Errorf("booking %s planned_start_time: %w", b.ID, err)
	}
	if b.ActualStartTime, err = parseNullTime(actual); err != nil {
		return b, fmt.Errorf("booking %s actual_start_time: %w", b.ID, err)
	}
	if b.TimeReturnedByClient, err = parseNullTime(returned); err != nil {
		return b, fmt.Errorf("booking %s time_returned_by_client: %w", b.ID, err)
	}
	return b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
