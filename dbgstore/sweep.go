package dbgstore

import (
	"context"
	"errors"
	"time"

	"github.com/peterbourgon/debugbar"
	"go.uber.org/zap"
)

// Sweep calls PurgeExpired on the store at the given interval, until the
// context is canceled or the store is closed. Purge errors are logged and
// don't stop the sweep.
func Sweep(ctx context.Context, s Store, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			switch {
			case errors.Is(err, debugbar.ErrClosed):
				return err
			case err != nil:
				logger.Warn("purge expired dumps", zap.Error(err))
			case n > 0:
				logger.Debug("purged expired dumps", zap.Int("count", n))
			}
		}
	}
}
