package appstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProbeReportsTransitions(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	statuses := make(chan bool, 8)
	probe := HTTPProbe{URL: srv.URL, Interval: 10 * time.Millisecond, Timeout: time.Second}
	stop, err := probe.Watch(context.Background(), func(online bool) { statuses <- online })
	require.NoError(t, err)
	defer stop()

	assert.True(t, nextStatus(t, statuses))
	failing.Store(true)
	assert.False(t, nextStatus(t, statuses))
	failing.Store(false)
	assert.True(t, nextStatus(t, statuses))
}

func TestHTTPProbeUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	statuses := make(chan bool, 1)
	stop, err := HTTPProbe{URL: url, Interval: time.Hour, Timeout: 200 * time.Millisecond}.
		Watch(context.Background(), func(online bool) { statuses <- online })
	require.NoError(t, err)
	defer stop()

	assert.False(t, nextStatus(t, statuses))
}

func TestHTTPProbeRejectsBadURL(t *testing.T) {
	_, err := HTTPProbe{URL: "://bad"}.Watch(context.Background(), func(bool) {})
	assert.Error(t, err)
}

func TestHTTPProbeStopsCallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	var calls atomic.Int32
	stop, err := HTTPProbe{URL: srv.URL, Interval: 5 * time.Millisecond}.
		Watch(context.Background(), func(bool) { calls.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	stop()
	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func nextStatus(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for network status")
		return false
	}
}

func TestMergeAndCombine(t *testing.T) {
	base := tree{"settings": map[string]any{"units": "metric", "theme": "auto"}, "ui": map[string]any{"loading": false}}
	merge(base, tree{"settings": map[string]any{"units": "imperial"}, "currentLocation": nil})
	assert.Equal(t, "imperial", base["settings"].(map[string]any)["units"])
	assert.Equal(t, "auto", base["settings"].(map[string]any)["theme"])

	combined := combine(nil, tree{"settings": map[string]any{"units": "imperial"}})
	combined = combine(combined, tree{"settings": map[string]any{"theme": "dark"}, "ui": map[string]any{"loading": true}})
	combined = combine(combined, tree{"settings": map[string]any{"units": "standard"}})
	assert.Equal(t, tree{
		"settings": map[string]any{"units": "standard", "theme": "dark"},
		"ui":       map[string]any{"loading": true},
	}, combined)
}
