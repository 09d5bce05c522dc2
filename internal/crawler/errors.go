package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ClassifyFetchError maps a transport error onto the failure taxonomy.
// Timeouts and connection failures are both retryable; context cancellation
// surfaces as a non-retryable timeout so a cancelled job does not requeue
// its in-flight URLs.
func ClassifyFetchError(err error) (reason FailureReason, retryable bool) {
	if errors.Is(err, context.Canceled) {
		return ReasonTimeout, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout, true
	}
	return ReasonConnection, true
}

// RetryableStatus reports whether an HTTP error status warrants a retry:
// 5xx and 429 are retryable, other 4xx are permanent.
func RetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code < 600
}
