package appstate

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// NetworkMonitor reports online status. Watch calls fn with the current
// status and again on every change until ctx ends or stop is called.
type NetworkMonitor interface {
	Watch(ctx context.Context, fn func(online bool)) (stop func(), err error)
}

// HTTPProbe derives online status by polling URL. Any response below 500
// counts as online; transport errors count as offline.
type HTTPProbe struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Watch implements NetworkMonitor.
func (p HTTPProbe) Watch(ctx context.Context, fn func(online bool)) (func(), error) {
	if _, err := http.NewRequest(http.MethodHead, p.URL, nil); err != nil {
		return nil, err
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last, first := false, true
		for {
			online := p.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			if first || online != last {
				fn(online)
				first, last = false, online
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (p HTTPProbe) probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
