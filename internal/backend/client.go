// Package backend talks to the booking service over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// StatusError is returned when the booking service answers with status >= 400
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("booking service %s %s: %d - %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is the HTTP booking service client. It lists bookings for the
// source poller and sends partial updates for the dispatcher.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

// ListBookings fetches the full booking set. Entries that do not decode
// are logged and left out; the rest of the set is still returned.
func (c *Client) ListBookings(ctx context.Context) ([]types.Booking, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/bookings", nil, &raw); err != nil {
		return nil, err
	}

	bookings := make([]types.Booking, 0, len(raw))
	for i, item := range raw {
		var b types.Booking
		if err := json.Unmarshal(item, &b); err != nil {
			var ref struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(item, &ref)
			c.logger.Warn().
				Err(err).
				Int("index", i).
				Str("booking_id", ref.ID).
				Msg("skipping undecodable booking")
			continue
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

// UpdateBooking sends a partial update and returns the booking as stored
func (c *Client) UpdateBooking(ctx context.Context, id string, patch types.Patch) (*types.Booking, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("empty patch for booking %s", id)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}

	var updated types.Booking
	path := "/bookings/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, body, &updated); err != nil {
		return nil, err
	}
	if updated.ID == "" {
		// service acknowledged without echoing the booking
		return nil, nil
	}

	c.logger.Debug().Str("booking_id", id).Str("status", string(updated.Status)).Msg("booking patched")
	return &updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
