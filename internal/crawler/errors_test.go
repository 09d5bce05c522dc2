package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	reason, retryable := ClassifyFetchError(timeoutError{})
	require.Equal(t, ReasonTimeout, reason)
	require.True(t, retryable)

	reason, retryable = ClassifyFetchError(context.DeadlineExceeded)
	require.Equal(t, ReasonTimeout, reason)
	require.True(t, retryable)

	reason, retryable = ClassifyFetchError(context.Canceled)
	require.Equal(t, ReasonTimeout, reason)
	require.False(t, retryable)

	reason, retryable = ClassifyFetchError(errors.New("connection refused"))
	require.Equal(t, ReasonConnection, reason)
	require.True(t, retryable)
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	require.True(t, RetryableStatus(http.StatusInternalServerError))
	require.True(t, RetryableStatus(http.StatusServiceUnavailable))
	require.True(t, RetryableStatus(http.StatusTooManyRequests))
	require.False(t, RetryableStatus(http.StatusNotFound))
	require.False(t, RetryableStatus(http.StatusForbidden))
	require.False(t, RetryableStatus(http.StatusOK))
}
