package registry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryWithBackoff retries op up to maxAttempts times with exponential
// backoff. Backoff waits abort as soon as ctx is canceled.
//
// op returns (shouldRetry bool, err error). If shouldRetry is false,
// err is returned immediately (nil on success, non-nil on permanent
// failure). On retry exhaustion, the last error is returned.
// maxAttempts below 1 is treated as 1 so op always runs at least once.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(baseBackoff * time.Duration(1<<(attempt-1))):
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// transientMarkers are output fragments that mark a publish failure as
// worth retrying: registry hiccups, rate limiting, and interrupted
// connections. Anything else (bad credentials, malformed package) would
// fail the same way again.
var transientMarkers = []string{
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"status 429",
	"too many requests",
	"timed out",
	"timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporarily unavailable",
	"network",
	"spurious",
}

// IsTransient reports whether a publish failure looks transient. The
// check is a heuristic over the error text, which carries the publish
// tool's trailing output.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
