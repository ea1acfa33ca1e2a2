package location

import (
	"context"
	"fmt"
	"time"

	"github.com/goforj/geostate/geo"
)

// PositionOptions tunes a geolocation request.
type PositionOptions struct {
	EnableHighAccuracy bool
	// Timeout bounds a one-shot request. Zero uses the service default.
	Timeout time.Duration
	// MaximumAge accepts a remembered fix no older than this instead of
	// asking the platform. Zero always asks.
	MaximumAge time.Duration
}

// PositionErrorCode is the failure code reported by a geolocation platform.
type PositionErrorCode int

const (
	PermissionDenied    PositionErrorCode = 1
	PositionUnavailable PositionErrorCode = 2
	PositionTimeout     PositionErrorCode = 3
)

// PositionError is returned by Geolocator implementations.
type PositionError struct {
	Code    PositionErrorCode
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}

// Geolocator is the platform capability that produces device positions.
type Geolocator interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (geo.Coordinates, error)
	// WatchPosition reports fixes and failures to fn until stop is called or
	// ctx is cancelled.
	WatchPosition(ctx context.Context, opts PositionOptions, fn func(geo.Coordinates, error)) (stop func(), err error)
}

// Geocoder resolves place names and coordinates against an external endpoint.
type Geocoder interface {
	Direct(ctx context.Context, query string, limit int) ([]geo.Location, error)
	Reverse(ctx context.Context, lat, lon float64, limit int) ([]geo.Location, error)
}

// PollPosition implements a watch on top of a one-shot lookup by calling
// current every interval. The first lookup runs immediately.
func PollPosition(
	ctx context.Context,
	interval time.Duration,
	current func(ctx context.Context) (geo.Coordinates, error),
	fn func(geo.Coordinates, error),
) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			coords, err := current(ctx)
			if ctx.Err() != nil {
				return
			}
			fn(coords, err)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}

// StaticGeolocator reports a fixed position, or Err when set. It suits
// desktop hosts with a configured home location, and tests.
type StaticGeolocator struct {
	Coordinates geo.Coordinates
	Err         error
	// Interval between watch updates. Zero uses one minute.
	Interval time.Duration
}

func (g StaticGeolocator) CurrentPosition(ctx context.Context, _ PositionOptions) (geo.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return geo.Coordinates{}, err
	}
	if g.Err != nil {
		return geo.Coordinates{}, g.Err
	}
	c := g.Coordinates
	c.Timestamp = time.Now()
	return c, nil
}

func (g StaticGeolocator) WatchPosition(ctx context.Context, opts PositionOptions, fn func(geo.Coordinates, error)) (func(), error) {
	interval := g.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return PollPosition(ctx, interval, func(ctx context.Context) (geo.Coordinates, error) {
		return g.CurrentPosition(ctx, opts)
	}, fn), nil
}
