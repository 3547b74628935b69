package blobstore

import (
	"context"
	"io"
)

type Waiter interface {
	Wait(ctx context.Context) error
}

type throttled struct {
	inner  Store
	waiter Waiter
}

type throttledDeleter struct {
	throttled
	deleter Deleter
}

// Throttle makes every call wait for the limiter first. The result
// implements Deleter only when inner does.
func Throttle(inner Store, waiter Waiter) Store {
	t := throttled{inner: inner, waiter: waiter}
	if deleter, ok := inner.(Deleter); ok {
		return &throttledDeleter{throttled: t, deleter: deleter}
	}
	return &t
}

func (t *throttled) Name() string   { return t.inner.Name() }
func (t *throttled) External() bool { return t.inner.External() }

func (t *throttled) Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	if err := t.waiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.inner.Upload(ctx, r, suggestedName)
}

func (t *throttled) Download(ctx context.Context, token string, w io.Writer) error {
	if err := t.waiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.Download(ctx, token, w)
}

func (t *throttledDeleter) Delete(ctx context.Context, token string) error {
	if err := t.waiter.Wait(ctx); err != nil {
		return err
	}
	return t.deleter.Delete(ctx, token)
}
