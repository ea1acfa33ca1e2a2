package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisPubSub captures the subset of redis.Client used by RedisNotifier.
type RedisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisNotifier carries changes between instances over a redis pub/sub
// channel. Only writes made through a store returned by Wrap are announced.
type RedisNotifier struct {
	client  RedisPubSub
	channel string
	origin  string
	logger  *slog.Logger
}

type redisChange struct {
	Key     string `json:"k"`
	Value   []byte `json:"v,omitempty"`
	Deleted bool   `json:"d,omitempty"`
	Origin  string `json:"o"`
}

// NewRedisNotifier creates a notifier publishing on "<prefix>:changes".
func NewRedisNotifier(client RedisPubSub, prefix string, logger *slog.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client:  client,
		channel: prefix + ":changes",
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin returns the id stamped on changes announced by this notifier.
func (n *RedisNotifier) Origin() string { return n.origin }

// Wrap returns a store that announces its writes on the channel.
func (n *RedisNotifier) Wrap(store Store) Store {
	return &publishingStore{Store: store, publish: n.publish}
}

func (n *RedisNotifier) publish(ctx context.Context, c Change) {
	body, err := json.Marshal(redisChange{Key: c.Key, Value: c.Value, Deleted: c.Deleted, Origin: n.origin})
	if err != nil {
		n.logger.Warn("encode change announcement", "key", c.Key, "err", err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		n.logger.Warn("publish change announcement", "key", c.Key, "err", err)
	}
}

// Watch implements ChangeNotifier. It returns once the subscription is active.
func (n *RedisNotifier) Watch(ctx context.Context, key string, fn func(Change)) (func(), error) {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("storage: subscribe %q: %w", n.channel, err)
	}
	d := newDispatcher(ctx, key, fn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = sub.Close()
			d.stop()
		})
	}
	messages := sub.Channel()
	go func() {
		defer stop()
		for {
			select {
			case <-d.done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var rc redisChange
				if err := json.Unmarshal([]byte(msg.Payload), &rc); err != nil {
					n.logger.Warn("decode change announcement", "err", err)
					continue
				}
				c := Change{Key: rc.Key, Value: rc.Value, Deleted: rc.Deleted, Origin: rc.Origin}
				if c.Origin == n.origin || !matchesKey(c, key) {
					continue
				}
				d.deliver(c)
			}
		}
	}()
	return stop, nil
}
