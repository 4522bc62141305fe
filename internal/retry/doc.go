// Package retry retries store writes that fail because SQLite reported the
// database as busy or locked.
//
// Only those two conditions are retried. Every other error, including
// context cancellation, is returned immediately. Backoff starts at
// Config.InitialBackoff and doubles after each failed attempt up to
// Config.MaxBackoff.
//
// Interactive query paths do not use this package; their errors are
// surfaced to the caller once.
package retry
