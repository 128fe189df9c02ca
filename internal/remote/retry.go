package remote

// Retry policy for remote calls. Object-store APIs fail transiently
// under load: connection resets, HTTP 429 rate limits, 5xx server
// errors. Those are retried with exponential backoff and jitter up to
// a fixed attempt cap. Client errors (403, 404) are permanent and
// returned immediately as typed errors.

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
)

const (
	maxAttempts = 4
	baseBackoff = 500 * time.Millisecond
)

// withRetry runs fn with bounded retry on transient errors. The context
// bounds total retry time; cancellation stops further attempts.
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// A context error means the caller gave up, not that the store
		// misbehaved; stop without classifying.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isTransient(err) {
			return classify(err)
		}

		logger.Warn("remote: transient failure, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return lastErr
}

// isTransient reports whether the error is worth retrying. Non-HTTP
// errors (dial failures, resets, timeouts) count as transient.
func isTransient(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return true
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true
	case resp.StatusCode == http.StatusRequestTimeout:
		return true
	case resp.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// classify wraps non-retryable failures in a PermanentError so callers
// can skip the item without aborting the run.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusConflict:
		return &PermanentError{Code: resp.Code, Err: err}
	default:
		return err
	}
}

// isNotFound reports whether err is the store's missing-object error.
func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).StatusCode == http.StatusNotFound
}
