package usecases

import (
	"context"
	"fmt"
	"time"

	"waflow/internal/entities"
)

type result[T any] struct {
	value T
	err   error
}

// WithTimeout races fn against d. On timeout it returns entities.ErrTransportTimeout
// right away; fn keeps running in the background until it notices its context.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)

	done := make(chan result[T], 1)
	go func() {
		defer cancel()
		v, err := fn(callCtx)
		done <- result[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w after %s", entities.ErrTransportTimeout, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// withTimeoutErr is WithTimeout for calls that only return an error.
func withTimeoutErr(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := WithTimeout(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
