package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/ellingard/chartd/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpErr(status int, code string) error {
	return minio.ErrorResponse{StatusCode: status, Code: code, Message: code}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{httpErr(http.StatusTooManyRequests, "SlowDown"), true},
		{httpErr(http.StatusInternalServerError, "InternalError"), true},
		{httpErr(http.StatusServiceUnavailable, "ServiceUnavailable"), true},
		{httpErr(http.StatusRequestTimeout, "RequestTimeout"), true},
		{errors.New("dial tcp: connection refused"), true},
		{httpErr(http.StatusForbidden, "AccessDenied"), false},
		{httpErr(http.StatusNotFound, "NoSuchKey"), false},
	}
	for _, c := range cases {
		if got := isTransient(c.err); got != c.want {
			t.Errorf("isTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestClassify_Permanent(t *testing.T) {
	err := classify(httpErr(http.StatusNotFound, "NoSuchKey"))
	if !IsPermanent(err) {
		t.Errorf("404 should classify as permanent, got %v", err)
	}
	var pe *PermanentError
	if !errors.As(err, &pe) || pe.Code != "NoSuchKey" {
		t.Errorf("permanent error should carry the provider code, got %v", err)
	}

	plain := errors.New("something else")
	if IsPermanent(classify(plain)) {
		t.Error("unclassified errors must not become permanent")
	}
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), discardLogger(), "op", func() error {
		attempts++
		if attempts == 1 {
			return httpErr(http.StatusServiceUnavailable, "ServiceUnavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestWithRetry_PermanentNoRetry(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), discardLogger(), "op", func() error {
		attempts++
		return httpErr(http.StatusForbidden, "AccessDenied")
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent)", attempts)
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestWithRetry_ContextErrorFromClosure(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), discardLogger(), "op", func() error {
		attempts++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after the caller gave up)", attempts)
	}
}

func TestWithRetry_LimiterBoundsEachAttempt(t *testing.T) {
	// One read permit per hour: the first attempt drains the bucket, so
	// the retry's acquire cannot succeed before the context deadline.
	lim := ratelimit.New(1, 0, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	attempts := 0
	err := withRetry(ctx, discardLogger(), "op", func() error {
		if acqErr := lim.Acquire(ctx, ratelimit.OpRead); acqErr != nil {
			return acqErr
		}
		attempts++
		return httpErr(http.StatusServiceUnavailable, "ServiceUnavailable")
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (retry must wait for its own permit)", attempts)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := withRetry(ctx, discardLogger(), "op", func() error {
		attempts++
		return httpErr(http.StatusServiceUnavailable, "ServiceUnavailable")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancelled during first backoff)", attempts)
	}
}
