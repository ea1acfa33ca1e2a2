package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goforj/geostate/appstate"
	"github.com/goforj/geostate/favorites"
	"github.com/goforj/geostate/geoerr"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEOSTATE_STORAGE_DRIVER", "file")
	t.Setenv("GEOSTATE_STORAGE_DIR", t.TempDir())
	t.Setenv("GEOSTATE_NOTIFIER", "none")
	t.Setenv("GEOSTATE_OWM_API_KEY", "")
	t.Setenv("GEOSTATE_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	missing := filepath.Join(t.TempDir(), "none.env")
	var out bytes.Buffer
	err := runCLI(context.Background(), append([]string{"--env-file", missing}, args...), &out, &out)
	return out.String(), err
}

func TestFavoritesPersistAcrossInvocations(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "favorites", "add", "--name", "London", "--country", "GB", "--lat", "51.5074", "--lon", "-0.1278", "--pin")
	require.NoError(t, err)
	assert.Contains(t, out, "Added london_51.5074_-0.1278")

	_, err = run(t, "favorites", "add", "--name", "London Eye", "--lat", "51.5075", "--lon", "-0.1278")
	require.Error(t, err)
	assert.True(t, geoerr.Is(err, geoerr.NotFound))

	out, err = run(t, "--json", "favorites", "list")
	require.NoError(t, err)
	var list []favorites.Favorite
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPinned)

	out, err = run(t, "favorites", "view", list[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "1 views")

	_, err = run(t, "favorites", "remove", list[0].ID)
	require.NoError(t, err)
	out, err = run(t, "favorites", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No favorites.")
}

func TestFavoritesExportImport(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "favorites", "add", "--name", "Paris", "--country", "FR", "--lat", "48.8566", "--lon", "2.3522")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.json")
	_, err = run(t, "favorites", "export", "--out", path)
	require.NoError(t, err)

	_, err = run(t, "favorites", "clear")
	require.NoError(t, err)

	out, err := run(t, "favorites", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 of 1 favorites")

	out, err = run(t, "favorites", "list", "--query", "par")
	require.NoError(t, err)
	assert.Contains(t, out, "Paris, FR")
}

func TestStateSetAndGet(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "state", "set", "settings.units", "imperial")
	require.NoError(t, err)
	assert.Contains(t, out, `"imperial"`)

	out, err = run(t, "state", "get", "settings")
	require.NoError(t, err)
	var settings map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.Equal(t, "imperial", settings["units"])
	assert.Equal(t, "auto", settings["theme"])

	_, err = run(t, "state", "get", "settings.nothing")
	assert.Error(t, err)

	_, err = run(t, "state", "reset")
	require.NoError(t, err)
	out, err = run(t, "state", "get", "settings.units")
	require.NoError(t, err)
	assert.Equal(t, `"metric"`, strings.TrimSpace(out))
}

func TestStorageKeys(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "favorites", "add", "--name", "Paris", "--lat", "48.8566", "--lon", "2.3522")
	require.NoError(t, err)
	_, err = run(t, "state", "set", "settings.theme", "dark")
	require.NoError(t, err)

	out, err := run(t, "storage", "keys")
	require.NoError(t, err)
	var listing struct {
		Driver string   `json:"driver"`
		Keys   []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	assert.Equal(t, "file", listing.Driver)
	assert.Contains(t, listing.Keys, favorites.DefaultKey)
	assert.Contains(t, listing.Keys, appstate.DefaultKeyPrefix+":settings")
}

func TestMemoizedStorageWithFileNotifier(t *testing.T) {
	setupEnv(t)
	t.Setenv("GEOSTATE_STORAGE_MEMO", "true")
	t.Setenv("GEOSTATE_NOTIFIER", "file")

	_, err := run(t, "favorites", "add", "--name", "Berlin", "--lat", "52.52", "--lon", "13.405")
	require.NoError(t, err)

	out, err := run(t, "--json", "favorites", "list")
	require.NoError(t, err)
	var list []favorites.Favorite
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Berlin", list[0].Location.Name)
}

func TestStateMirrorsFavorites(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "favorites", "add", "--name", "Berlin", "--lat", "52.52", "--lon", "13.405")
	require.NoError(t, err)

	out, err := run(t, "--json", "state", "get", "favorites")
	require.NoError(t, err)
	var mirrored []favorites.Favorite
	require.NoError(t, json.Unmarshal([]byte(out), &mirrored))
	require.Len(t, mirrored, 1)
	assert.Equal(t, "Berlin", mirrored[0].Name)
}

func TestLocationDistance(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "location", "distance",
		"--from-lat", "51.5", "--from-lon", "-0.12", "--to-lat", "48.85", "--to-lon", "2.35")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "34"), out)

	out, err = run(t, "location", "distance",
		"--from-lat=-33.87", "--from-lon", "151.21", "--to-lat", "-37.81", "--to-lon", "144.96")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "71"), out)

	_, err = run(t, "location", "distance",
		"--from-lat", "91", "--from-lon", "0", "--to-lat", "0", "--to-lon", "0")
	assert.Error(t, err)
}

func TestLocationSearchWithoutGeocoder(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "location", "search", "London")
	assert.True(t, geoerr.Is(err, geoerr.Unavailable))
}

func TestPatchAt(t *testing.T) {
	p := patchAt("settings.units", "imperial")
	assert.Equal(t, appstate.Patch{"settings": appstate.Patch{"units": "imperial"}}, p)
	assert.Equal(t, 3.0, parseValue("3"))
	assert.Equal(t, "plain text", parseValue("plain text"))
}
