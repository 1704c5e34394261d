package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/httpx"
)

// ErrKind classifies a failed gateway call. The gateway only classifies; what
// to do about a failure (retry, back off, abort the walk) is the caller's
// policy.
type ErrKind string

const (
	// KindNotFound: the target message or id does not exist. Terminal for that
	// single lookup, expected during a backfill walk (deleted messages,
	// non-message ids), never fatal for the walk.
	KindNotFound ErrKind = "not_found"
	// KindTransient: network failure, timeout, or 5xx. Retryable a bounded
	// number of times.
	KindTransient ErrKind = "transient"
	// KindForbidden: access or permission denied. Terminal for the whole walk
	// of the room.
	KindForbidden ErrKind = "forbidden"
	// KindRateLimited: the caller must pause at least RetryAfter before any
	// further call.
	KindRateLimited ErrKind = "rate_limited"
)

type Error struct {
	Kind       ErrKind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := KindTransient
	var retryAfter time.Duration

	var apiErr *botapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 404:
			kind = KindNotFound
		case apiErr.StatusCode == 400 && apiErr.RetryAfter <= 0:
			// The API reports lookups of nonexistent message ids as 400
			// "message to get not found".
			kind = KindNotFound
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			kind = KindForbidden
		case apiErr.StatusCode == 429:
			kind = KindRateLimited
			retryAfter = apiErr.RetryAfter
		case httpx.IsRetryableHTTPStatus(apiErr.StatusCode):
			kind = KindTransient
		default:
			kind = KindTransient
		}
	}

	return &Error{Kind: kind, Op: op, RetryAfter: retryAfter, Err: err}
}

func kindOf(err error) (ErrKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindNotFound
}

func IsTransient(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindTransient
}

func IsForbidden(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindForbidden
}

func IsRateLimited(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindRateLimited
}

// RetryAfter returns the pause a rate-limited error asked for, or fallback
// when the server did not indicate one.
func RetryAfter(err error, fallback time.Duration) time.Duration {
	var te *Error
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter
	}
	return fallback
}
