package usecases

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waflow/internal/entities"
)

func TestSupervise_RestartsAfterErrorAndPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	fn := func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("db down")
		case 2:
			panic("boom")
		default:
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
	}

	err := Supervise(ctx, "test", time.Millisecond, zerolog.Nop(), nil, fn)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSupervise_StopsDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Supervise(ctx, "test", time.Hour, zerolog.Nop(), nil, func(context.Context) error {
		return errors.New("always")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	release := make(chan struct{})
	defer close(release)
	_, err = WithTimeout(context.Background(), 10*time.Millisecond, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, entities.ErrTransportTimeout)

	want := errors.New("refused")
	err = withTimeoutErr(context.Background(), time.Second, func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}
