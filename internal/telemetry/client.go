package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gridsight/map-core/internal/metrics"
)

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Status int
	URL    string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: HTTP %d from %s", e.Status, e.URL)
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Client calls the remote device/telemetry API with bearer auth. An
// auth rejection triggers exactly one silent token refresh and retry;
// a second rejection surfaces to the caller.
type Client struct {
	log     zerolog.Logger
	base    string
	http    *http.Client
	tokens  TokenSource
	metrics *metrics.Metrics
	now     func() time.Time
}

type ClientOptions struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

func NewClient(log zerolog.Logger, opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		log:     log,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		tokens:  opts.Tokens,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.base + path

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	// A token already past its exp claim cannot succeed; refresh
	// before spending the request.
	if tokenExpired(token, c.now()) {
		if fresh, err := c.refresh(ctx); err == nil && fresh != "" {
			token = fresh
		}
	}

	status, respBody, err := c.doOnce(ctx, url, payload, token)
	if err != nil {
		return err
	}
	if isAuthStatus(status) {
		fresh, rerr := c.refresh(ctx)
		if rerr == nil && fresh != "" {
			status, respBody, err = c.doOnce(ctx, url, payload, fresh)
			if err != nil {
				return err
			}
		}
	}
	if status < 200 || status > 299 {
		return &APIError{Status: status, URL: url, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, url string, payload []byte, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	fresh, err := c.tokens.Refresh(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("token refresh failed")
		return "", err
	}
	c.metrics.IncTokenRefresh()
	return fresh, nil
}

type deviceListResponse struct {
	Items     []json.RawMessage `json:"items"`
	DevAccess [][]string        `json:"dev_access"`
}

type rawDeviceInfo struct {
	DeviceID   any       `json:"DeviceID"`
	Location   string    `json:"Location"`
	Coordinate []float64 `json:"Coordinate"`
}

// DeviceList fetches the device inventory for a user. Devices without a
// well-formed 2-element coordinate are dropped; access grants stay
// aligned with the surviving items by index.
func (c *Client) DeviceList(ctx context.Context, email string) (DeviceList, error) {
	var resp deviceListResponse
	if err := c.post(ctx, "/getIMEI", map[string]string{"email": email}, &resp); err != nil {
		return DeviceList{}, err
	}

	var list DeviceList
	for i, raw := range resp.Items {
		var item rawDeviceInfo
		if err := json.Unmarshal(raw, &item); err != nil {
			c.log.Warn().Err(err).Int("index", i).Msg("skipping malformed device entry")
			continue
		}
		if len(item.Coordinate) != 2 {
			continue
		}
		d := DeviceInfo{
			DeviceID:   deviceIDString(item.DeviceID),
			Location:   item.Location,
			Coordinate: [2]float64{item.Coordinate[0], item.Coordinate[1]},
		}
		if !d.HasCoordinate() {
			continue
		}
		list.Items = append(list.Items, d)
		if i < len(resp.DevAccess) {
			list.Grants = append(list.Grants, resp.DevAccess[i])
		} else {
			list.Grants = append(list.Grants, nil)
		}
	}
	return list, nil
}

// deviceIDString normalizes the API's string-or-number device id.
func deviceIDString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// LatestReading fetches the newest datapoint of every device type on
// one device, keyed by device type.
func (c *Client) LatestReading(ctx context.Context, deviceID string) (map[string]Reading, error) {
	var items []Reading
	if err := c.post(ctx, "/getLatestDP", map[string]string{"IMEI": deviceID}, &items); err != nil {
		return nil, err
	}

	out := make(map[string]Reading, len(items))
	for _, item := range items {
		dt, ok := item["DeviceType"].(string)
		if !ok || dt == "" {
			continue
		}
		out[dt] = item
	}
	return out, nil
}

// LatestReadings fetches the newest datapoints for several devices in
// parallel and merges them under namespaced "{deviceId}_{deviceType}"
// keys. Any single failure fails the whole batch, matching the
// all-or-nothing tick semantics.
func (c *Client) LatestReadings(ctx context.Context, deviceIDs []string) (map[string]Reading, error) {
	type result struct {
		id       string
		readings map[string]Reading
		err      error
	}

	results := make([]result, len(deviceIDs))
	var wg sync.WaitGroup
	for i, id := range deviceIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			r, err := c.LatestReading(ctx, id)
			results[i] = result{id: id, readings: r, err: err}
		}(i, id)
	}
	wg.Wait()

	merged := make(map[string]Reading)
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		for dt, reading := range r.readings {
			merged[r.id+"_"+dt] = reading
		}
	}
	return merged, nil
}

// RangeResult is a historical datapoint query response.
type RangeResult struct {
	DeviceTypes []string  `json:"deviceTypes"`
	Items       []Reading `json:"items"`
}

// ReadingsFromRange fetches datapoints between two times at a given
// aggregation interval.
func (c *Client) ReadingsFromRange(ctx context.Context, deviceID, start, end, interval string) (RangeResult, error) {
	var resp RangeResult
	err := c.post(ctx, "/getDpFromTime", map[string]string{
		"IMEI":          deviceID,
		"startDateTime": start,
		"endDateTime":   end,
		"timeInterval":  interval,
	}, &resp)
	return resp, err
}
