package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/storage"
)

var london = geo.Location{Name: "London", Country: "GB", State: "England", Lat: 51.5074, Lon: -0.1278}

type fakeGeocoder struct {
	mu        sync.Mutex
	direct    []geo.Location
	reverse   []geo.Location
	err       error
	calls     int
	lastQuery string
}

func (f *fakeGeocoder) Direct(_ context.Context, query string, limit int) ([]geo.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.direct) {
		return f.direct[:limit], nil
	}
	return f.direct, nil
}

func (f *fakeGeocoder) Reverse(_ context.Context, _, _ float64, _ int) ([]geo.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.reverse, nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// manualGeolocator lets tests push watch updates by hand.
type manualGeolocator struct {
	mu       sync.Mutex
	current  func(ctx context.Context) (geo.Coordinates, error)
	watchers []func(geo.Coordinates, error)
	stopped  int
}

func (m *manualGeolocator) CurrentPosition(ctx context.Context, _ PositionOptions) (geo.Coordinates, error) {
	return m.current(ctx)
}

func (m *manualGeolocator) WatchPosition(_ context.Context, _ PositionOptions, fn func(geo.Coordinates, error)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
	return func() {
		m.mu.Lock()
		m.stopped++
		m.mu.Unlock()
	}, nil
}

// emitAll pushes to every watcher ever registered, including stopped ones,
// the way a platform that delivers late would.
func (m *manualGeolocator) emitAll(c geo.Coordinates) {
	m.mu.Lock()
	watchers := append(([]func(geo.Coordinates, error))(nil), m.watchers...)
	m.mu.Unlock()
	for _, fn := range watchers {
		fn(c, nil)
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *storage.Repository) {
	t.Helper()
	repo := storage.NewRepository(storage.NewMemoryStore())
	svc := NewWith(append([]Option{WithRepository(repo)}, opts...)...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, repo
}

func TestCurrentLocationPersistsLastKnown(t *testing.T) {
	fix := geo.Coordinates{Latitude: 48.85, Longitude: 2.35, Accuracy: 10}
	svc, repo := newTestService(t, WithGeolocator(StaticGeolocator{Coordinates: fix}))

	got, err := svc.CurrentLocation(context.Background(), PositionOptions{})
	require.NoError(t, err)
	assert.Equal(t, 48.85, got.Latitude)
	assert.False(t, got.Timestamp.IsZero())

	stored, ok, err := storage.GetJSON[LastKnown](context.Background(), repo, defaultLastKnownKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.35, stored.Coordinates.Longitude)
}

func TestCurrentLocationMapsPlatformErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind geoerr.Kind
	}{
		{"permission", &PositionError{Code: PermissionDenied, Message: "denied"}, geoerr.Permission},
		{"unavailable", &PositionError{Code: PositionUnavailable, Message: "no fix"}, geoerr.Unavailable},
		{"timeout", &PositionError{Code: PositionTimeout, Message: "slow"}, geoerr.Timeout},
		{"unknown code", &PositionError{Code: 42, Message: "?"}, geoerr.Generic},
		{"plain error", errors.New("boom"), geoerr.Generic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t, WithGeolocator(StaticGeolocator{Err: tc.err}))
			_, err := svc.CurrentLocation(context.Background(), PositionOptions{})
			require.Error(t, err)
			assert.Equal(t, tc.kind, geoerr.KindOf(err))
		})
	}
}

func TestCurrentLocationWithoutPlatformIsUnavailable(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CurrentLocation(context.Background(), PositionOptions{})
	assert.True(t, geoerr.Is(err, geoerr.Unavailable))
}

func TestCurrentLocationTimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := &manualGeolocator{current: func(context.Context) (geo.Coordinates, error) {
		<-block
		return geo.Coordinates{}, nil
	}}
	svc, _ := newTestService(t, WithGeolocator(g))

	start := time.Now()
	_, err := svc.CurrentLocation(context.Background(), PositionOptions{Timeout: 30 * time.Millisecond})
	assert.True(t, geoerr.Is(err, geoerr.Timeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCurrentLocationMaximumAgeUsesRememberedFix(t *testing.T) {
	var calls atomic.Int32
	g := &manualGeolocator{current: func(context.Context) (geo.Coordinates, error) {
		calls.Add(1)
		return geo.Coordinates{Latitude: 1, Longitude: 2}, nil
	}}
	svc, _ := newTestService(t, WithGeolocator(g))
	ctx := context.Background()

	_, err := svc.CurrentLocation(ctx, PositionOptions{})
	require.NoError(t, err)
	_, err = svc.CurrentLocation(ctx, PositionOptions{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatchLocationSingleFlight(t *testing.T) {
	g := &manualGeolocator{}
	svc, _ := newTestService(t, WithGeolocator(g))
	ctx := context.Background()

	var first, second atomic.Int32
	require.NoError(t, svc.WatchLocation(ctx, func(geo.Coordinates, error) { first.Add(1) }, PositionOptions{}))
	g.emitAll(geo.Coordinates{Latitude: 1, Longitude: 1})
	assert.Equal(t, int32(1), first.Load())

	require.NoError(t, svc.WatchLocation(ctx, func(geo.Coordinates, error) { second.Add(1) }, PositionOptions{}))
	g.emitAll(geo.Coordinates{Latitude: 2, Longitude: 2})
	assert.Equal(t, int32(1), first.Load(), "first watch must receive nothing after the second starts")
	assert.Equal(t, int32(1), second.Load())

	g.mu.Lock()
	assert.Equal(t, 1, g.stopped)
	g.mu.Unlock()

	svc.StopWatchingLocation()
	svc.StopWatchingLocation()
	g.emitAll(geo.Coordinates{Latitude: 3, Longitude: 3})
	assert.Equal(t, int32(1), second.Load())
}

func TestWatchLocationWaitsForInFlightDelivery(t *testing.T) {
	g := &manualGeolocator{}
	svc, _ := newTestService(t, WithGeolocator(g))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var firstDone atomic.Bool
	require.NoError(t, svc.WatchLocation(ctx, func(geo.Coordinates, error) {
		close(entered)
		<-release
		firstDone.Store(true)
	}, PositionOptions{}))

	go g.emitAll(geo.Coordinates{Latitude: 1, Longitude: 1})
	<-entered

	restarted := make(chan struct{})
	go func() {
		defer close(restarted)
		assert.NoError(t, svc.WatchLocation(ctx, func(geo.Coordinates, error) {}, PositionOptions{}))
	}()

	select {
	case <-restarted:
		t.Fatal("second watch started while the first was still delivering")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("second watch never started")
	}
	assert.True(t, firstDone.Load())
}

func TestWatchLocationDeliversMappedErrors(t *testing.T) {
	g := &manualGeolocator{}
	svc, _ := newTestService(t, WithGeolocator(g))

	var got error
	require.NoError(t, svc.WatchLocation(context.Background(), func(_ geo.Coordinates, err error) { got = err }, PositionOptions{}))
	g.mu.Lock()
	fn := g.watchers[0]
	g.mu.Unlock()
	fn(geo.Coordinates{}, &PositionError{Code: PermissionDenied})
	assert.True(t, geoerr.Is(got, geoerr.Permission))
}

func TestSearchLocationsValidatesAndCaches(t *testing.T) {
	coder := &fakeGeocoder{direct: []geo.Location{london}}
	svc, _ := newTestService(t, WithGeocoder(coder))
	ctx := context.Background()

	_, err := svc.SearchLocations(ctx, " L ", 5)
	assert.True(t, geoerr.Is(err, geoerr.Validation))
	assert.Equal(t, 0, coder.callCount())

	got, err := svc.SearchLocations(ctx, "London", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].Name = "mutated"

	again, err := svc.SearchLocations(ctx, "london", 5)
	require.NoError(t, err)
	assert.Equal(t, "London", again[0].Name)
	assert.Equal(t, 1, coder.callCount())

	_, err = svc.SearchLocations(ctx, "london", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, coder.callCount(), "limit is part of the cache key")

	stats := svc.CacheStats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)

	svc.ClearCache()
	assert.Equal(t, 0, svc.CacheStats().Entries)
}

func TestSearchLocationsCacheExpires(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	coder := &fakeGeocoder{direct: []geo.Location{london}}
	svc, _ := newTestService(t, WithGeocoder(coder), WithClock(clock), WithCacheTTL(time.Minute))
	ctx := context.Background()

	_, err := svc.SearchLocations(ctx, "London", 1)
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = svc.SearchLocations(ctx, "London", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, coder.callCount())
}

func TestGeocodeCacheSweepsLapsedEntriesWithoutJanitor(t *testing.T) {
	c := newGeocodeCache(5*time.Millisecond, 10*time.Millisecond, time.Now)
	c.put("direct:london:1", []geo.Location{london})
	assert.Equal(t, 1, c.stats().Entries)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, c.stats().Entries)
	_, ok := c.staleEntry("direct:london:1")
	assert.False(t, ok)
}

func TestSearchLocationsEmptyIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, WithGeocoder(&fakeGeocoder{}))
	_, err := svc.SearchLocations(context.Background(), "Atlantis", 5)
	assert.True(t, geoerr.Is(err, geoerr.NotFound))
}

func TestSearchLocationsServesStaleOnFailure(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	coder := &fakeGeocoder{direct: []geo.Location{london}}
	svc, _ := newTestService(t, WithGeocoder(coder), WithClock(clock), WithCacheTTL(time.Minute))
	ctx := context.Background()

	_, err := svc.SearchLocations(ctx, "London", 1)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()
	coder.mu.Lock()
	coder.err = errors.New("endpoint down")
	coder.mu.Unlock()

	got, err := svc.SearchLocations(ctx, "London", 1)
	require.NoError(t, err)
	assert.Equal(t, "London", got[0].Name)
	assert.Equal(t, uint64(1), svc.CacheStats().StaleServed)

	_, err = svc.SearchLocations(ctx, "Paris", 1)
	assert.True(t, geoerr.Is(err, geoerr.Unavailable))
}

func TestReverseGeocodeValidatesFirst(t *testing.T) {
	coder := &fakeGeocoder{reverse: []geo.Location{london}}
	svc, _ := newTestService(t, WithGeocoder(coder))

	_, err := svc.ReverseGeocode(context.Background(), 91, 0, 1)
	assert.True(t, geoerr.Is(err, geoerr.Validation))
	assert.Equal(t, 0, coder.callCount())

	loc, err := svc.LocationFromCoordinates(context.Background(), 51.5, -0.12)
	require.NoError(t, err)
	assert.Equal(t, "London", loc.Name)
}

func TestCurrentLocationWithDetailsFallsBackToLastKnown(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	g := &manualGeolocator{current: func(context.Context) (geo.Coordinates, error) {
		return geo.Coordinates{Latitude: 51.5, Longitude: -0.12}, nil
	}}
	coder := &fakeGeocoder{reverse: []geo.Location{london}}
	svc, _ := newTestService(t, WithGeolocator(g), WithGeocoder(coder), WithClock(clock))
	ctx := context.Background()

	d, err := svc.CurrentLocationWithDetails(ctx, PositionOptions{})
	require.NoError(t, err)
	assert.False(t, d.Fallback)
	assert.Equal(t, "London, England, GB", d.Formatted)

	g.current = func(context.Context) (geo.Coordinates, error) {
		return geo.Coordinates{}, &PositionError{Code: PositionUnavailable}
	}
	mu.Lock()
	now = now.Add(23 * time.Hour)
	mu.Unlock()
	d, err = svc.CurrentLocationWithDetails(ctx, PositionOptions{})
	require.NoError(t, err)
	assert.True(t, d.Fallback)
	assert.Equal(t, 51.5, d.Coordinates.Latitude)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	_, err = svc.CurrentLocationWithDetails(ctx, PositionOptions{})
	assert.True(t, geoerr.Is(err, geoerr.Unavailable), "stale fallback must propagate the original error, got %v", err)
}

func TestCurrentLocationWithDetailsDegradesWithoutGeocoder(t *testing.T) {
	svc, _ := newTestService(t, WithGeolocator(StaticGeolocator{Coordinates: geo.Coordinates{Latitude: 10, Longitude: 20}}))
	d, err := svc.CurrentLocationWithDetails(context.Background(), PositionOptions{})
	require.NoError(t, err)
	assert.Nil(t, d.Location)
	assert.Equal(t, "10.0000, 20.0000", d.Formatted)
}

func TestLastKnownLoadsFromRepository(t *testing.T) {
	repo := storage.NewRepository(storage.NewMemoryStore())
	saved := LastKnown{Coordinates: geo.Coordinates{Latitude: 5, Longitude: 6}, SavedAt: time.Now()}
	require.NoError(t, storage.SetJSON(context.Background(), repo, defaultLastKnownKey, saved, 0))

	svc := NewWith(WithRepository(repo))
	got, ok := svc.LastKnownLocation(context.Background())
	require.True(t, ok)
	assert.Equal(t, 5.0, got.Coordinates.Latitude)
}

func TestDistanceAndFormat(t *testing.T) {
	svc := New(Config{})
	assert.Zero(t, svc.CalculateDistance(0, 0, 0, 0))
	assert.InEpsilon(t, 343.0, svc.CalculateDistance(51.5, -0.12, 48.85, 2.35), 0.05)
	assert.Equal(t, "London, England, GB", svc.FormatLocation(london))
}

func TestPollPositionStops(t *testing.T) {
	var n atomic.Int32
	stop := PollPosition(context.Background(), 5*time.Millisecond, func(context.Context) (geo.Coordinates, error) {
		return geo.Coordinates{}, nil
	}, func(geo.Coordinates, error) { n.Add(1) })

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	stop()
	time.Sleep(20 * time.Millisecond)
	settled := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, n.Load())
}
