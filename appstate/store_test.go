package appstate_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goforj/geostate/appstate"
	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/geo"
	"github.com/goforj/geostate/geoerr"
	"github.com/goforj/geostate/storage"
	"github.com/goforj/geostate/storage/storagefake"
)

var london = geo.Location{Name: "London", Country: "GB", Lat: 51.5074, Lon: -0.1278}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newStore(t *testing.T, opts ...appstate.Option) *appstate.Store {
	t.Helper()
	opts = append([]appstate.Option{appstate.WithCleanup(-1, 0, 0)}, opts...)
	s := appstate.NewWith(context.Background(), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDefaultsAreValid(t *testing.T) {
	s := newStore(t)
	st := s.GetState()
	assert.Equal(t, appstate.DefaultSettings(), st.Settings)
	assert.Equal(t, appstate.ViewCurrent, st.UI.ActiveView)
	assert.True(t, st.UI.IsOnline)
	assert.Empty(t, st.Favorites)
	assert.Nil(t, st.CurrentLocation)
}

func TestSetStateMergesInsteadOfReplacing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"theme": "dark"}}))

	st := s.GetState()
	assert.Equal(t, "imperial", st.Settings.Units)
	assert.Equal(t, "dark", st.Settings.Theme)
	assert.Equal(t, "en", st.Settings.Language)
}

func TestSetStateRejectsUnknownFields(t *testing.T) {
	s := newStore(t)
	err := s.SetState(context.Background(), appstate.Patch{"settings": appstate.Patch{"colour": "red"}})
	assert.True(t, geoerr.Is(err, geoerr.Validation))

	err = s.SetState(context.Background(), appstate.Patch{"ui": appstate.Patch{"loading": "yes"}})
	assert.True(t, geoerr.Is(err, geoerr.Validation))
}

func TestNilPatchValueResetsField(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SetCurrentLocation(ctx, &london))
	require.NotNil(t, s.GetState().CurrentLocation)

	require.NoError(t, s.SetState(ctx, appstate.Patch{"currentLocation": nil}))
	assert.Nil(t, s.GetState().CurrentLocation)
}

func TestPathSubscriberFiresOnlyForItsSubtree(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var changes []appstate.PathChange
	unsubscribe := s.Subscribe("settings.units", func(c appstate.PathChange) { changes = append(changes, c) })

	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": true}}))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}))

	require.Len(t, changes, 1)
	assert.Equal(t, "metric", changes[0].Previous)
	assert.Equal(t, "imperial", changes[0].Current)
	assert.Equal(t, appstate.SourceUser, changes[0].Source)

	unsubscribe()
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "standard"}}))
	assert.Len(t, changes, 1)
}

func TestSubscribeAllFiresOnEveryCommit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var events []appstate.Event
	s.SubscribeAll(func(e appstate.Event) { events = append(events, e) })

	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": true}}))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": true}}))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": false}}, appstate.SkipNotify()))

	require.Len(t, events, 2)
	assert.False(t, events[0].Previous.UI.Loading)
	assert.True(t, events[0].Current.UI.Loading)
	assert.Equal(t, appstate.Patch{"ui": appstate.Patch{"loading": true}}, events[0].Updates)
	assert.False(t, s.GetState().UI.Loading)
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CacheLocations(ctx, "London", []geo.Location{london}))

	st := s.GetState()
	st.Settings.Units = "imperial"
	st.Locations["london"].Results[0].Name = "Mutated"

	settings, ok := s.Get("settings")
	require.True(t, ok)
	settings.(map[string]any)["units"] = "imperial"

	units, ok := s.Get("settings.units")
	require.True(t, ok)
	assert.Equal(t, "metric", units)

	results, ok := s.Locations("london")
	require.True(t, ok)
	assert.Equal(t, "London", results[0].Name)

	_, ok = s.Get("settings.nope")
	assert.False(t, ok)
	_, ok = s.Get("settings.units.deeper")
	assert.False(t, ok)
}

func TestValidationRepairsInsteadOfFailing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.SetState(ctx, appstate.Patch{
		"settings": appstate.Patch{"units": "furlongs", "language": "en", "refreshInterval": 7},
		"ui":       appstate.Patch{"activeView": "nowhere"},
	})
	require.NoError(t, err)

	st := s.GetState()
	assert.Equal(t, "metric", st.Settings.Units)
	assert.Equal(t, 15, st.Settings.RefreshInterval)
	assert.Equal(t, appstate.ViewCurrent, st.UI.ActiveView)

	require.NoError(t, s.Update(ctx, func(st *appstate.State) {
		st.CurrentLocation = &geo.Location{Name: "Bad", Lat: 95}
		st.Favorites = []favorites.Favorite{
			{Location: london, ID: favorites.ID(london)},
			{Location: geo.Location{Name: "Bad", Lat: -100}, ID: "bad"},
		}
		st.Weather["broken"] = appstate.WeatherEntry{Data: json.RawMessage(`{"t":1}`)}
	}))
	st = s.GetState()
	assert.Nil(t, st.CurrentLocation)
	require.Len(t, st.Favorites, 1)
	assert.Equal(t, favorites.ID(london), st.Favorites[0].ID)
	assert.NotContains(t, st.Weather, "broken")
}

func TestBatchCoalescesIntoOneCommit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, appstate.WithBatchWindow(time.Hour))

	var events []appstate.Event
	s.SubscribeAll(func(e appstate.Event) { events = append(events, e) })

	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}, appstate.Batch()))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"theme": "dark"}}, appstate.Batch()))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "standard"}}, appstate.Batch()))
	require.NoError(t, s.Update(ctx, func(st *appstate.State) { st.UI.SearchQuery = "par" }, appstate.Batch()))

	assert.Empty(t, events)
	assert.Equal(t, "metric", s.GetState().Settings.Units)

	require.NoError(t, s.Flush(ctx))
	require.Len(t, events, 1)
	assert.Equal(t, appstate.SourceBatch, events[0].Source)

	st := s.GetState()
	assert.Equal(t, "standard", st.Settings.Units)
	assert.Equal(t, "dark", st.Settings.Theme)
	assert.Equal(t, "par", st.UI.SearchQuery)
}

func TestBatchCommitsAfterWindow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	done := make(chan appstate.Event, 1)
	s.SubscribeAll(func(e appstate.Event) { done <- e })

	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": true}}, appstate.Batch()))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"searchQuery": "lon"}}, appstate.Batch()))

	select {
	case e := <-done:
		assert.True(t, e.Current.UI.Loading)
		assert.Equal(t, "lon", e.Current.UI.SearchQuery)
	case <-time.After(2 * time.Second):
		t.Fatal("batch never committed")
	}
}

func TestDirectUpdateCommitsPendingBatchFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, appstate.WithBatchWindow(time.Hour))

	var sources []string
	s.SubscribeAll(func(e appstate.Event) { sources = append(sources, e.Source) })

	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}, appstate.Batch()))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "standard"}}))

	assert.Equal(t, []string{appstate.SourceBatch, appstate.SourceUser}, sources)
	assert.Equal(t, "standard", s.GetState().Settings.Units)
}

func TestReentrantSetStateIsOrdered(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var seen []bool
	s.SubscribeAll(func(e appstate.Event) {
		seen = append(seen, e.Current.UI.Loading)
		if e.Current.UI.Loading {
			require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": false}}))
		}
	})

	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": true}}))
	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, s.GetState().UI.Loading)
}

func TestPersistedSlicesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewRepository(storage.NewMemoryStore())

	first := newStore(t, appstate.WithRepository(repo))
	require.NoError(t, first.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}))
	require.NoError(t, first.SetCurrentLocation(ctx, &london))
	require.NoError(t, first.SetActiveView(ctx, appstate.ViewFavorites))
	require.NoError(t, first.SetSearchQuery(ctx, "transient"))
	require.NoError(t, first.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"theme": "dark"}}, appstate.SkipPersist()))
	require.NoError(t, first.Close())

	second := newStore(t, appstate.WithRepository(repo))
	st := second.GetState()
	assert.Equal(t, "imperial", st.Settings.Units)
	assert.Equal(t, "auto", st.Settings.Theme)
	require.NotNil(t, st.CurrentLocation)
	assert.Equal(t, "London", st.CurrentLocation.Name)
	assert.Equal(t, appstate.ViewFavorites, st.UI.ActiveView)
	assert.Empty(t, st.UI.SearchQuery)
}

func TestCorruptSliceFallsBackToDefault(t *testing.T) {
	fake := storagefake.New()
	fake.Put(appstate.DefaultKeyPrefix+":settings", []byte("{broken"))
	fake.Put(appstate.DefaultKeyPrefix+":ui", []byte(`{"activeView":"favorites"}`))
	fake.Put(appstate.DefaultKeyPrefix+":weather", []byte(`"not a map"`))

	s := newStore(t, appstate.WithRepository(storage.NewRepository(fake)))
	st := s.GetState()
	assert.Equal(t, appstate.DefaultSettings(), st.Settings)
	assert.Equal(t, appstate.ViewFavorites, st.UI.ActiveView)
	assert.Empty(t, st.Weather)

	_, ok := fake.Peek(appstate.DefaultKeyPrefix + ":settings")
	assert.False(t, ok)
	_, ok = fake.Peek(appstate.DefaultKeyPrefix + ":weather")
	assert.False(t, ok)
}

func TestPartialSettingsKeepDefaults(t *testing.T) {
	fake := storagefake.New()
	fake.Put(appstate.DefaultKeyPrefix+":settings", []byte(`{"units":"imperial","theme":"neon"}`))

	s := newStore(t, appstate.WithRepository(storage.NewRepository(fake)))
	st := s.GetState()
	assert.Equal(t, "imperial", st.Settings.Units)
	assert.Equal(t, "auto", st.Settings.Theme)
	assert.True(t, st.Settings.ShowNotifications)
}

func TestPersistFailureDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	fake := storagefake.New()
	s := newStore(t, appstate.WithRepository(storage.NewRepository(fake)))

	fake.FailAlways(storagefake.OpSet, true)
	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}))
	assert.Equal(t, "imperial", s.GetState().Settings.Units)
}

func TestCleanupEvictsOnlyExpiredEntries(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s := newStore(t, appstate.WithClock(clk.Now), appstate.WithCleanup(-1, 10*time.Minute, time.Hour))

	require.NoError(t, s.CacheWeather(ctx, "old", json.RawMessage(`{"temp":10}`)))
	require.NoError(t, s.CacheLocations(ctx, "paris", nil))
	clk.Advance(8 * time.Minute)
	require.NoError(t, s.CacheWeather(ctx, "fresh", json.RawMessage(`{"temp":12}`)))
	clk.Advance(5 * time.Minute)

	var events int
	s.SubscribeAll(func(appstate.Event) { events++ })

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, events)

	_, ok := s.Weather("old")
	assert.False(t, ok)
	fresh, ok := s.Weather("fresh")
	require.True(t, ok)
	assert.JSONEq(t, `{"temp":12}`, string(fresh.Data))
	_, ok = s.Locations("Paris")
	assert.True(t, ok)

	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, events)

	clk.Advance(time.Hour)
	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCleanupLoopRunsOnInterval(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s := newStore(t, appstate.WithClock(clk.Now), appstate.WithCleanup(10*time.Millisecond, time.Minute, time.Minute))

	evicted := make(chan appstate.Event, 1)
	s.SubscribeAll(func(e appstate.Event) {
		if e.Source == appstate.SourceCleanup {
			evicted <- e
		}
	})
	require.NoError(t, s.CacheWeather(ctx, "old", json.RawMessage(`{}`)))
	clk.Advance(2 * time.Minute)

	select {
	case e := <-evicted:
		assert.Empty(t, e.Current.Weather)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop never evicted")
	}
}

func TestResetStateWipesPersistence(t *testing.T) {
	ctx := context.Background()
	fake := storagefake.New()
	s := newStore(t, appstate.WithRepository(storage.NewRepository(fake)))

	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}))
	require.NoError(t, s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"isOnline": false}}, appstate.SkipPersist()))
	_, ok := fake.Peek(appstate.DefaultKeyPrefix + ":settings")
	require.True(t, ok)

	var sources []string
	s.SubscribeAll(func(e appstate.Event) { sources = append(sources, e.Source) })
	require.NoError(t, s.ResetState(ctx))

	st := s.GetState()
	assert.Equal(t, appstate.DefaultSettings(), st.Settings)
	assert.False(t, st.UI.IsOnline)
	assert.Equal(t, []string{appstate.SourceReset}, sources)
	_, ok = fake.Peek(appstate.DefaultKeyPrefix + ":settings")
	assert.False(t, ok)
}

type manualNetwork struct {
	mu      sync.Mutex
	fn      func(bool)
	stopped bool
}

func (m *manualNetwork) Watch(_ context.Context, fn func(bool)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped = true
	}, nil
}

func (m *manualNetwork) emit(online bool) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	fn(online)
}

func TestNetworkStatusFlowsThroughSetState(t *testing.T) {
	net := &manualNetwork{}
	s := newStore(t, appstate.WithNetwork(net))

	var changes []appstate.PathChange
	s.Subscribe("ui.isOnline", func(c appstate.PathChange) { changes = append(changes, c) })

	net.emit(false)
	net.emit(false)
	net.emit(true)

	require.Len(t, changes, 2)
	assert.Equal(t, false, changes[0].Current)
	assert.Equal(t, appstate.SourceNetwork, changes[0].Source)
	assert.Equal(t, true, changes[1].Current)

	require.NoError(t, s.Close())
	assert.True(t, net.stopped)
}

func TestCloseSilencesEverything(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewRepository(storage.NewMemoryStore())
	s := newStore(t, appstate.WithRepository(repo), appstate.WithBatchWindow(20*time.Millisecond))

	var mu sync.Mutex
	calls := 0
	s.SubscribeAll(func(appstate.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, s.SetState(ctx, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}, appstate.Batch()))
	require.NoError(t, s.Close())
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()

	err := s.SetState(ctx, appstate.Patch{"ui": appstate.Patch{"loading": true}})
	assert.True(t, geoerr.Is(err, geoerr.Unavailable))
	assert.NoError(t, s.Close())

	reopened := newStore(t, appstate.WithRepository(repo))
	assert.Equal(t, "imperial", reopened.GetState().Settings.Units)
}

func TestBindFavoritesMirrorsSnapshots(t *testing.T) {
	ctx := context.Background()
	svc := favorites.NewWith()
	t.Cleanup(func() { _ = svc.Close() })
	_, err := svc.Add(ctx, london, favorites.AddOptions{})
	require.NoError(t, err)

	s := newStore(t)
	stop, err := s.BindFavorites(ctx, svc)
	require.NoError(t, err)
	require.Len(t, s.GetState().Favorites, 1)

	paris := geo.Location{Name: "Paris", Country: "FR", Lat: 48.8566, Lon: 2.3522}
	_, err = svc.Add(ctx, paris, favorites.AddOptions{})
	require.NoError(t, err)
	assert.Len(t, s.GetState().Favorites, 2)

	stop()
	require.NoError(t, svc.Clear(ctx))
	assert.Len(t, s.GetState().Favorites, 2)
}
