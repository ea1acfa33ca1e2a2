package storagetest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/goforj/geostate/storage"
)

// Options tunes RunStoreContract for a backend.
type Options struct {
	// Namespace is prepended to every key the suite writes. Defaults to t.Name().
	Namespace string
	// Discarding marks stores that accept writes but never return them.
	Discarding bool
	// SharedBuffers skips the check that Get hands out a private copy.
	SharedBuffers bool
	// SkipTTL skips expiry checks for backends whose clock the test cannot drive.
	SkipTTL bool
	// TTL is the lifetime used by expiry checks. Defaults to 50ms.
	TTL time.Duration
	// TTLWait bounds how long expiry checks poll. Defaults to 150ms.
	TTLWait time.Duration
	// SkipFlush skips the flush check.
	SkipFlush bool
}

// Sample payloads shaped like what geostate persists.
const (
	favoritesJSON = `[{"id":"f1","location":{"name":"London","country":"GB","coordinates":{"lat":51.5074,"lon":-0.1278}}}]`
	settingsJSON  = `{"units":"metric","theme":"auto","language":"en"}`
)

// RunStoreContract checks the behaviour every storage.Store must share.
func RunStoreContract(t *testing.T, store storage.Store, opts Options) {
	t.Helper()
	opts = opts.withDefaults(t)
	c := &contract{store: store, opts: opts, ctx: context.Background()}

	if opts.Discarding {
		t.Run("discards writes", c.discards)
		return
	}
	t.Run("round trip", c.roundTrip)
	t.Run("overwrite", c.overwrite)
	t.Run("miss", c.miss)
	t.Run("empty key", c.emptyKey)
	if !opts.SkipTTL {
		t.Run("expiry", c.expiry)
	}
	t.Run("delete", c.delete)
	if _, ok := store.(storage.Lister); ok {
		t.Run("keys", c.keys)
	}
	if !opts.SkipFlush {
		t.Run("flush", c.flush)
	}
}

func (o Options) withDefaults(t *testing.T) Options {
	if o.Namespace == "" {
		o.Namespace = strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	}
	if o.TTL <= 0 {
		o.TTL = 50 * time.Millisecond
	}
	if o.TTLWait <= 0 {
		o.TTLWait = 150 * time.Millisecond
	}
	return o
}

type contract struct {
	store storage.Store
	opts  Options
	ctx   context.Context
}

func (c *contract) key(name string) string {
	return c.opts.Namespace + ":" + name
}

func (c *contract) put(t *testing.T, name, value string, ttl time.Duration) {
	t.Helper()
	if err := c.store.Set(c.ctx, c.key(name), []byte(value), ttl); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
}

func (c *contract) want(t *testing.T, name, value string) {
	t.Helper()
	got, ok, err := c.store.Get(c.ctx, c.key(name))
	if err != nil || !ok || string(got) != value {
		t.Fatalf("get %s: ok=%v err=%v got=%q want=%q", name, ok, err, got, value)
	}
}

func (c *contract) absent(t *testing.T, name string) {
	t.Helper()
	if _, ok, err := c.store.Get(c.ctx, c.key(name)); err != nil || ok {
		t.Fatalf("expected %s absent: ok=%v err=%v", name, ok, err)
	}
}

func (c *contract) discards(t *testing.T) {
	c.put(t, "favorites", favoritesJSON, 0)
	c.absent(t, "favorites")
}

func (c *contract) roundTrip(t *testing.T) {
	c.put(t, "favorites", favoritesJSON, 0)
	c.want(t, "favorites", favoritesJSON)
	if c.opts.SharedBuffers {
		return
	}
	got, _, _ := c.store.Get(c.ctx, c.key("favorites"))
	got[0] = '!'
	c.want(t, "favorites", favoritesJSON)
}

func (c *contract) overwrite(t *testing.T) {
	c.put(t, "settings", settingsJSON, 0)
	c.put(t, "settings", `{"units":"imperial"}`, 0)
	c.want(t, "settings", `{"units":"imperial"}`)
}

func (c *contract) miss(t *testing.T) {
	c.absent(t, "never-written")
}

func (c *contract) emptyKey(t *testing.T) {
	if err := c.store.Set(c.ctx, "", []byte("x"), 0); !errors.Is(err, storage.ErrEmptyKey) {
		t.Fatalf("set with empty key: expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := c.store.Get(c.ctx, "  "); !errors.Is(err, storage.ErrEmptyKey) {
		t.Fatalf("get with blank key: expected ErrEmptyKey, got %v", err)
	}
}

func (c *contract) expiry(t *testing.T) {
	c.put(t, "weather", `{"temp":12.5}`, c.opts.TTL)
	deadline := time.Now().Add(c.opts.TTLWait)
	for {
		_, ok, err := c.store.Get(c.ctx, c.key("weather"))
		if err != nil {
			t.Fatalf("get during expiry: %v", err)
		}
		if !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("weather still present after %s", c.opts.TTLWait)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *contract) delete(t *testing.T) {
	for _, name := range []string{"ui", "locations", "currentLocation"} {
		c.put(t, name, "{}", 0)
	}
	if err := c.store.Delete(c.ctx, c.key("ui")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.store.Delete(c.ctx, c.key("ui")); err != nil {
		t.Fatalf("delete of a missing key: %v", err)
	}
	if err := c.store.DeleteMany(c.ctx, c.key("locations"), c.key("currentLocation")); err != nil {
		t.Fatalf("delete many: %v", err)
	}
	for _, name := range []string{"ui", "locations", "currentLocation"} {
		c.absent(t, name)
	}
}

func (c *contract) keys(t *testing.T) {
	c.put(t, "listed-b", "1", 0)
	c.put(t, "listed-a", "2", 0)
	keys, err := c.store.(storage.Lister).Keys(c.ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !slices.IsSorted(keys) {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
	for _, name := range []string{"listed-a", "listed-b"} {
		if !slices.Contains(keys, c.key(name)) {
			t.Fatalf("expected %s in %v", c.key(name), keys)
		}
	}
}

func (c *contract) flush(t *testing.T) {
	c.put(t, "settings", settingsJSON, 0)
	if err := c.store.Flush(c.ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	c.absent(t, "settings")
}
