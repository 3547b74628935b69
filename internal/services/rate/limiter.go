package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	xrate "golang.org/x/time/rate"
)

const minWaitStep = 50 * time.Millisecond

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// Limiter is a fixed-window limiter shared by every process that points at
// the same store and key.
type Limiter struct {
	store  WindowStore
	key    string
	limit  int
	window time.Duration
}

func NewLimiter(store WindowStore, key string, limit int, window time.Duration) *Limiter {
	if limit < 0 {
		limit = 0
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		store:  store,
		key:    "rate:" + strings.TrimPrefix(key, "rate:"),
		limit:  limit,
		window: window,
	}
}

// Allow consumes one slot. When the window is full it reports how long until
// the window resets.
func (l *Limiter) Allow(ctx context.Context) (time.Duration, bool, error) {
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}
	if l.limit == 0 {
		return 0, true, nil
	}

	count, ttl, err := l.store.IncrementWindow(ctx, l.key, l.window)
	if err != nil {
		return 0, false, err
	}
	if count > int64(l.limit) {
		return maxDuration(ttl, minWaitStep), false, nil
	}

	return 0, true, nil
}

func (l *Limiter) RetryAfter(ctx context.Context) (time.Duration, error) {
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}
	if l.limit == 0 {
		return 0, nil
	}

	count, ttl, err := l.store.WindowState(ctx, l.key)
	if err != nil {
		return 0, err
	}
	if count >= int64(l.limit) {
		return maxDuration(ttl, minWaitStep), nil
	}

	return 0, nil
}

// Wait blocks until a slot is granted or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		retryAfter, allowed, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLimiter is an in-process token bucket for single-replica setups.
type LocalLimiter struct {
	limiter *xrate.Limiter
}

func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := xrate.Inf
	if perMinute > 0 {
		limit = xrate.Every(time.Minute / time.Duration(perMinute))
	}
	return &LocalLimiter{limiter: xrate.NewLimiter(limit, burst)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
