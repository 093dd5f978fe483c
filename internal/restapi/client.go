package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/domain/geo"
)

// Client talks to the ride-hail backend REST API on behalf of one driver.
// Every call is bounded by the configured conservative timeout so a hung
// request cannot wedge an authoritative state transition.
type Client struct {
	baseURL  string
	token    string
	driverID string
	http     *http.Client
	logger   *slog.Logger
}

// New constructs a REST client for the given driver identity.
func New(baseURL, token, driverID string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		driverID: driverID,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// UpdateAvailability sets the driver's availability; the backend's matching
// engine treats this as the source of truth.
func (c *Client) UpdateAvailability(ctx context.Context, availability driver.Availability, pos *geo.Position) error {
	body := availabilityRequest{
		Availability: strings.ToLower(availability.String()),
	}
	if pos != nil {
		body.Location = stampOf(*pos)
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/drivers/%s/availability", c.driverID), body, nil)
}

// UpdateLocation reports a position sample. Best-effort: callers log and
// drop failures, the next cycle self-heals.
func (c *Client) UpdateLocation(ctx context.Context, pos geo.Position) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/drivers/%s/location", c.driverID), stampOf(pos), nil)
}

// AcceptRide is the authoritative commit of a ride acceptance.
func (c *Client) AcceptRide(ctx context.Context, rideID string) error {
	body := rideActionRequest{DriverID: c.driverID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rides/%s/accept", rideID), body, nil)
}

// DeclineRide rejects an offered ride, with an optional reason.
func (c *Client) DeclineRide(ctx context.Context, rideID, reason string) error {
	body := rideActionRequest{DriverID: c.driverID, Reason: reason}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rides/%s/decline", rideID), body, nil)
}

// TodayStats fetches the driver's stats for the current day.
func (c *Client) TodayStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/drivers/%s/stats/today", c.driverID), nil, &stats)
	return stats, err
}

// WeeklyStats fetches the driver's stats for the trailing week.
func (c *Client) WeeklyStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/drivers/%s/stats/weekly", c.driverID), nil, &stats)
	return stats, err
}

// do performs one JSON round trip and decodes into out when provided.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body)
		log.Debug(ctx, c.logger, "rest_non_2xx", "Backend rejected request",
			"method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// readErrorMessage pulls a {"error": "..."} or {"message": "..."} body, if any.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
