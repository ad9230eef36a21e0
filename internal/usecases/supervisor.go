package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"waflow/internal/infrastructure"
)

// Supervise runs fn until ctx is cancelled. Whenever fn returns or panics it is
// logged and started again after delay.
func Supervise(ctx context.Context, name string, delay time.Duration, logger zerolog.Logger, metrics *infrastructure.Metrics, fn func(context.Context) error) error {
	log := logger.With().Str("loop", name).Logger()

	for {
		err := runGuarded(ctx, fn)
		if ctx.Err() != nil {
			log.Info().Msg("loop stopped")
			return ctx.Err()
		}

		if err != nil {
			log.Error().Err(err).Dur("restart_in", delay).Msg("loop crashed")
		} else {
			log.Warn().Dur("restart_in", delay).Msg("loop returned")
		}
		metrics.LoopRestart(name)

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

var errLoopPanic = errors.New("loop panicked")

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errLoopPanic, r)
		}
	}()
	return fn(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
