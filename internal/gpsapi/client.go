// Package gpsapi is a client for the hosted GPS tracking API that owns live
// vehicle telemetry.
package gpsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleet-fuel-monitor/internal/models"
)

// HistoryTimeLayout is the time format the API expects for history ranges
const HistoryTimeLayout = "2006-01-02 15:04:05"

// Device is a tracker registered with the API
type Device struct {
	ID       string          `json:"imei"`
	Name     string          `json:"name"`
	Plate    string          `json:"plate_number,omitempty"`
	Active   bool            `json:"active"`
	Position *models.LatLng  `json:"position,omitempty"`
	Last     json.RawMessage `json:"last,omitempty"`
}

// Client talks to the tracking API
type Client struct {
	baseURL    string
	apiKey     string
	loc        *time.Location
	httpClient *http.Client
}

// NewClient creates a client. History ranges are formatted in loc.
func NewClient(baseURL, apiKey string, timeout time.Duration, loc *time.Location) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		loc:        loc,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Devices lists the trackers visible to the API key
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.get(ctx, "/api/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// History returns a device's breadcrumbs between from and to
func (c *Client) History(ctx context.Context, deviceID string, from, to time.Time) ([]models.Breadcrumb, error) {
	params := url.Values{}
	params.Set("device_id", deviceID)
	if !from.IsZero() {
		params.Set("from", from.In(c.loc).Format(HistoryTimeLayout))
	}
	if !to.IsZero() {
		params.Set("to", to.In(c.loc).Format(HistoryTimeLayout))
	}

	var crumbs []models.Breadcrumb
	if err := c.get(ctx, "/api/history", params, &crumbs); err != nil {
		return nil, fmt.Errorf("history for %s: %w", deviceID, err)
	}
	return crumbs, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tracking API returned %d", e.Code)
	}
	return fmt.Sprintf("tracking API returned %d: %s", e.Code, e.Body)
}
