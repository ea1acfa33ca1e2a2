package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	var r Registry[int]
	var got []string
	r.Subscribe(func(e int) { got = append(got, "a") })
	r.Subscribe(func(e int) { got = append(got, "b") })

	r.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, r.Len())
}

func TestReentrantPublishIsQueued(t *testing.T) {
	var r Registry[int]
	var got []int
	r.Subscribe(func(e int) {
		got = append(got, e)
		if e == 1 {
			r.Publish(2)
			got = append(got, -1)
		}
	})

	r.Publish(1)
	assert.Equal(t, []int{1, -1, 2}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	var r Registry[int]
	n := 0
	unsub := r.Subscribe(func(int) { n++ })
	r.Publish(1)
	unsub()
	unsub()
	r.Publish(2)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, r.Len())
}

func TestUnsubscribeDuringDispatchSkipsLaterSubscriber(t *testing.T) {
	var r Registry[int]
	var second func()
	calls := 0
	r.Subscribe(func(int) { second() })
	second = r.Subscribe(func(int) { calls++ })

	r.Publish(1)
	assert.Equal(t, 0, calls)
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	var r Registry[int]
	n := 0
	r.Subscribe(func(int) { panic("boom") })
	r.Subscribe(func(int) { n++ })
	assert.NotPanics(t, func() { r.Publish(1) })
	assert.Equal(t, 1, n)
}

func TestCloseSilencesRegistry(t *testing.T) {
	var r Registry[int]
	n := 0
	r.Subscribe(func(int) { n++ })
	r.Close()
	r.Publish(1)
	r.Subscribe(func(int) { n++ })
	r.Publish(2)
	assert.Equal(t, 0, n)
}

func TestConcurrentPublishDeliversEverything(t *testing.T) {
	var r Registry[int]
	var mu sync.Mutex
	total := 0
	r.Subscribe(func(e int) {
		mu.Lock()
		total += e
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Publish(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, total)
}

func TestEnqueueDefersDeliveryUntilDrain(t *testing.T) {
	var r Registry[int]
	var got []int
	r.Subscribe(func(e int) { got = append(got, e) })

	r.Enqueue(1)
	r.Enqueue(2)
	assert.Empty(t, got)

	r.Drain()
	assert.Equal(t, []int{1, 2}, got)

	r.Drain()
	assert.Equal(t, []int{1, 2}, got)
}
