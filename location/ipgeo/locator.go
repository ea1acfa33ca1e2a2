// Package ipgeo is a Geolocator that derives an approximate position from
// the host's public IP address.
package ipgeo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/location"
)

// DefaultEndpoint answers with the ip-api.com JSON shape.
const DefaultEndpoint = "http://ip-api.com/json/"

// approximateAccuracy is the reported accuracy in meters of an IP fix.
const approximateAccuracy = 5000

// Config controls a Locator.
type Config struct {
	Endpoint   string
	HTTPClient *http.Client
	// PollInterval is the watch refresh period.
	PollInterval time.Duration
	// MinInterval spaces out requests to the endpoint.
	MinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	return c
}

// Locator implements location.Geolocator.
type Locator struct {
	cfg     Config
	limiter *rate.Limiter
}

var _ location.Geolocator = (*Locator)(nil)

// New creates a Locator.
func New(cfg Config) *Locator {
	cfg = cfg.withDefaults()
	return &Locator{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

type response struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentPosition implements location.Geolocator.
func (l *Locator) CurrentPosition(ctx context.Context, _ location.PositionOptions) (geo.Coordinates, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return geo.Coordinates{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.Endpoint, nil)
	if err != nil {
		return geo.Coordinates{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return geo.Coordinates{}, ctx.Err()
		}
		return geo.Coordinates{}, &location.PositionError{Code: location.PositionUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return geo.Coordinates{}, &location.PositionError{Code: location.PermissionDenied, Message: "ip lookup forbidden"}
	case resp.StatusCode != http.StatusOK:
		return geo.Coordinates{}, &location.PositionError{
			Code:    location.PositionUnavailable,
			Message: fmt.Sprintf("ip lookup returned status %d", resp.StatusCode),
		}
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return geo.Coordinates{}, &location.PositionError{Code: location.PositionUnavailable, Message: "decode ip lookup: " + err.Error()}
	}
	if body.Status != "" && body.Status != "success" {
		return geo.Coordinates{}, &location.PositionError{Code: location.PositionUnavailable, Message: body.Message}
	}
	return geo.Coordinates{
		Latitude:  body.Lat,
		Longitude: body.Lon,
		Accuracy:  approximateAccuracy,
		Timestamp: time.Now(),
	}, nil
}

// WatchPosition implements location.Geolocator by polling.
func (l *Locator) WatchPosition(ctx context.Context, opts location.PositionOptions, fn func(geo.Coordinates, error)) (func(), error) {
	return location.PollPosition(ctx, l.cfg.PollInterval, func(ctx context.Context) (geo.Coordinates, error) {
		return l.CurrentPosition(ctx, opts)
	}, fn), nil
}
