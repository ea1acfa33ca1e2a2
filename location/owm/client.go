// Package owm is a Geocoder for the OpenWeatherMap geocoding API.
package owm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
)

// DefaultBaseURL is the public OpenWeatherMap API root.
const DefaultBaseURL = "https://api.openweathermap.org"

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 4
	defaultBackoff     = 200 * time.Millisecond
	// The free tier allows 60 calls per minute.
	defaultRatePerSecond = 1.0
	defaultBurst         = 5
)

// Config controls a Client.
type Config struct {
	APIKey  string
	BaseURL string

	HTTPClient  *http.Client
	MaxAttempts int
	Backoff     time.Duration

	RatePerSecond float64
	Burst         int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = defaultRatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	return c
}

// Client calls /geo/1.0/direct and /geo/1.0/reverse.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

type place struct {
	Name       string            `json:"name"`
	LocalNames map[string]string `json:"local_names"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	Country    string            `json:"country"`
	State      string            `json:"state"`
}

// Direct implements location.Geocoder.
func (c *Client) Direct(ctx context.Context, query string, limit int) ([]geo.Location, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	return c.get(ctx, "owm.direct", "/geo/1.0/direct", q)
}

// Reverse implements location.Geocoder.
func (c *Client) Reverse(ctx context.Context, lat, lon float64, limit int) ([]geo.Location, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("limit", strconv.Itoa(limit))
	return c.get(ctx, "owm.reverse", "/geo/1.0/reverse", q)
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]geo.Location, error) {
	if c.cfg.APIKey != "" {
		q.Set("appid", c.cfg.APIKey)
	}
	endpoint := c.cfg.BaseURL + path + "?" + q.Encode()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	var decoded []place
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, geoerr.Wrapf(geoerr.Generic, op, err, "decode response")
	}
	out := make([]geo.Location, 0, len(decoded))
	for _, p := range decoded {
		out = append(out, geo.Location{
			Name:       p.Name,
			Country:    p.Country,
			State:      p.State,
			Lat:        p.Lat,
			Lon:        p.Lon,
			LocalNames: p.LocalNames,
		})
	}
	return out, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx)
// with exponential backoff. Every attempt waits on the rate limiter.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.cfg.MaxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func classify(op string, err error) error {
	var he *httpStatusError
	switch {
	case errors.As(err, &he) && (he.Code == http.StatusUnauthorized || he.Code == http.StatusForbidden):
		return geoerr.Wrapf(geoerr.Permission, op, err, "geocoding request rejected")
	case errors.As(err, &he) && he.Code == http.StatusBadRequest:
		return geoerr.Wrapf(geoerr.Validation, op, err, "geocoding request invalid")
	case errors.Is(err, context.DeadlineExceeded):
		return geoerr.Wrapf(geoerr.Timeout, op, err, "geocoding request timed out")
	default:
		return geoerr.Wrapf(geoerr.Unavailable, op, err, "geocoding endpoint unavailable")
	}
}
