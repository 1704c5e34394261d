package httpx

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string       { return "status error" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("expected %d retryable", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("expected %d not retryable", code)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Fatalf("nil is not retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded is retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Fatalf("cancellation is not retryable")
	}
	if !IsRetryableError(statusErr(503)) {
		t.Fatalf("503 is retryable")
	}
	if IsRetryableError(statusErr(404)) {
		t.Fatalf("404 is not retryable")
	}
	if IsRetryableError(errors.New("opaque")) {
		t.Fatalf("opaque errors are not retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "4")
	if got := RetryAfterDuration(resp, time.Second, time.Minute); got != 4*time.Second {
		t.Fatalf("expected 4s, got %v", got)
	}
	// Clamped to max.
	resp.Header.Set("Retry-After", "600")
	if got := RetryAfterDuration(resp, time.Second, time.Minute); got != time.Minute {
		t.Fatalf("expected clamp to 1m, got %v", got)
	}
	// Missing header: fallback.
	if got := RetryAfterDuration(&http.Response{Header: http.Header{}}, 2*time.Second, time.Minute); got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %v", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, time.Minute); got != 2*time.Second {
		t.Fatalf("expected fallback 2s for nil response, got %v", got)
	}
}

func TestJitterSleepBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := JitterSleep(base)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", d)
		}
	}
	if d := JitterSleep(0); d != 0 {
		t.Fatalf("expected 0 for non-positive base, got %v", d)
	}
}
