package retry

import (
	"context"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// Config configures retry behavior for store operations
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the defaults used by bulk imports
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Observer records retry metrics. Implementations are provided by the
// metrics package to break the import cycle between retry and metrics.
type Observer interface {
	ObserveAttempt(operation string)
	ObserveFailure(operation string)
	ObserveDuration(operation string, durationSeconds float64)
}

// defaultObserver is the package-level observer set at startup.
// If nil, metric recording is silently skipped (safe for tests).
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
func SetObserver(o Observer) {
	defaultObserver = o
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	return false
}

// Do runs fn until it succeeds, returns a non-busy error, the context is
// done, or MaxRetries retries have been spent.
func Do(ctx context.Context, operation string, config Config, fn func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error
	backoff := config.InitialBackoff

	defer func() {
		if defaultObserver != nil {
			defaultObserver.ObserveDuration(operation, time.Since(start).Seconds())
		}
	}()

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logging.Info("%s succeeded on retry %d", operation, attempt)
			}
			return nil
		}

		lastErr = err

		if !IsBusy(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxRetries {
			if defaultObserver != nil {
				defaultObserver.ObserveAttempt(operation)
			}
			logging.Debug("%s: database busy, retrying in %v (attempt %d/%d)",
				operation, backoff, attempt+1, config.MaxRetries)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}

			// Exponential backoff with cap
			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("%s failed after %d retries: %v", operation, config.MaxRetries, lastErr)
	if defaultObserver != nil {
		defaultObserver.ObserveFailure(operation)
	}
	return lastErr
}
