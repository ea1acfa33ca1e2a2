package location

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/goforj/geostate/geo"
)

type cachedResult struct {
	locations []geo.Location
	fetchedAt time.Time
}

// CacheStats summarizes the geocoding cache.
type CacheStats struct {
	Entries     int
	Hits        uint64
	Misses      uint64
	StaleServed uint64
}

// geocodeCache keeps results for staleTTL; entries older than freshTTL are
// only served when the endpoint fails. It runs no janitor goroutine: lapsed
// entries are swept on every write and before counting.
type geocodeCache struct {
	items    *gocache.Cache
	freshTTL time.Duration
	now      func() time.Time

	hits, misses, stale atomic.Uint64
}

func newGeocodeCache(freshTTL, staleTTL time.Duration, now func() time.Time) *geocodeCache {
	return &geocodeCache{
		items:    gocache.New(staleTTL, 0),
		freshTTL: freshTTL,
		now:      now,
	}
}

// fresh returns a copy of the entry at key when it is younger than freshTTL.
func (c *geocodeCache) fresh(key string) ([]geo.Location, bool) {
	entry, ok := c.lookup(key)
	if !ok || c.now().Sub(entry.fetchedAt) > c.freshTTL {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return cloneLocations(entry.locations), true
}

// staleEntry returns whatever is still held for key regardless of age.
func (c *geocodeCache) staleEntry(key string) ([]geo.Location, bool) {
	entry, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	c.stale.Add(1)
	return cloneLocations(entry.locations), true
}

func (c *geocodeCache) lookup(key string) (cachedResult, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return cachedResult{}, false
	}
	entry, ok := v.(cachedResult)
	return entry, ok
}

func (c *geocodeCache) put(key string, locations []geo.Location) {
	c.items.DeleteExpired()
	c.items.SetDefault(key, cachedResult{locations: cloneLocations(locations), fetchedAt: c.now()})
}

func (c *geocodeCache) clear() {
	c.items.Flush()
}

func (c *geocodeCache) stats() CacheStats {
	c.items.DeleteExpired()
	return CacheStats{
		Entries:     c.items.ItemCount(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		StaleServed: c.stale.Load(),
	}
}

func cloneLocations(in []geo.Location) []geo.Location {
	out := make([]geo.Location, len(in))
	for i, l := range in {
		out[i] = l.Clone()
	}
	return out
}
