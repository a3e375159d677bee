// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	return hasSQLiteCode(err, sqlite3.SQLITE_BUSY) || containsErr(err, "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	return hasSQLiteCode(err, sqlite3.SQLITE_LOCKED) || containsErr(err, "database is locked")
}

// IsSQLiteConflictError reports either form of SQLite lock contention.
// Both warrant a retry.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

func hasSQLiteCode(err error, code int) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// Extended result codes keep the primary code in the low byte.
	return se.Code()&0xff == code
}

func containsErr(err error, s string) bool {
	return err != nil && strings.Contains(err.Error(), s)
}

// Retry describes an exponential backoff for lock contention.
type Retry struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetry is 3 attempts starting at 100ms (100ms, 200ms).
var DefaultRetry = Retry{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, fails with an error that is
// not lock contention, or the attempts run out.
func RetryOnConflict(ctx context.Context, r Retry, logger *slog.Logger, op string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if r.Attempts < 1 {
		r.Attempts = 1
	}

	var err error
	for i := 0; i < r.Attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == r.Attempts-1 {
			break
		}

		delay := r.BaseDelay * time.Duration(1<<i)
		logger.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
