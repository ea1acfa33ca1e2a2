package appstate

import (
	"context"
	"time"
)

func (s *Store) cleanupLoop(interval time.Duration) {
	defer s.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Cleanup(s.ctx); err != nil {
				s.logger.Debug("state cleanup skipped", "err", err)
			} else if n > 0 {
				s.logger.Debug("evicted stale cache entries", "count", n)
			}
		}
	}
}

// Cleanup evicts weather entries older than WeatherTTL and location-cache
// entries older than LocationCacheTTL. It commits and notifies only when
// something was evicted, and returns the number of entries removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errClosed("appstate.cleanup")
	}
	now := s.cfg.Now()
	next := s.state.Clone()
	evicted := 0
	for k, v := range next.Weather {
		if now.Sub(v.LastUpdated) > s.cfg.WeatherTTL {
			delete(next.Weather, k)
			evicted++
		}
	}
	for k, v := range next.Locations {
		if now.Sub(v.LastUpdated) > s.cfg.LocationCacheTTL {
			delete(next.Locations, k)
			evicted++
		}
	}
	if evicted == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.commitLocked(ctx, next, nil, setOptions{source: SourceCleanup})
	s.mu.Unlock()

	s.events.Drain()
	return evicted, nil
}
