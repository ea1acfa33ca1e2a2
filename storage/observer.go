package storage

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives an event after each Repository operation completes.
type Observer interface {
	OnStorageOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)

// OnStorageOp implements Observer.
func (f ObserverFunc) OnStorageOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if f != nil {
		f(ctx, op, key, hit, err, dur, driver)
	}
}

// LogObserver reports operations to logger: failures at warn, operations
// slower than slow at info, everything else at debug.
func LogObserver(logger *slog.Logger, slow time.Duration) Observer {
	return ObserverFunc(func(ctx context.Context, op, key string, hit bool, err error, dur time.Duration, driver Driver) {
		level := slog.LevelDebug
		switch {
		case err != nil:
			level = slog.LevelWarn
		case slow > 0 && dur >= slow:
			level = slog.LevelInfo
		}
		if !logger.Enabled(ctx, level) {
			return
		}
		attrs := []slog.Attr{
			slog.String("op", op),
			slog.String("driver", string(driver)),
			slog.Duration("dur", dur),
		}
		if key != "" {
			attrs = append(attrs, slog.String("key", key))
		}
		if op == "get" {
			attrs = append(attrs, slog.Bool("hit", hit))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("err", err))
		}
		logger.LogAttrs(ctx, level, "storage op", attrs...)
	})
}
