package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	var ue UnretriableError
	require.True(t, errors.As(err, &ue))
	require.EqualError(t, ue.Unwrap(), "bar")
	var permErr *backoff.PermanentError
	require.True(t, errors.As(err, &permErr))
}

func TestUnretriableStopsBackoff(t *testing.T) {
	calls := 0
	err := backoff.Retry(func() error {
		calls++
		return Unretriable(errors.New("no point retrying"))
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5))
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestCodesSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("creating session: %w", NewTrackNotFoundError("t1", nil))
	require.Equal(t, TrackNotFound, CodeOf(err))
	require.True(t, IsCode(err, TrackNotFound))
	require.False(t, IsRetryable(err))

	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestOnlyNotReadyIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewAssetNotReadyError(time.Second, nil)))
	require.True(t, IsRetryable(fmt.Errorf("fetching: %w", NewAssetNotReadyError(time.Second, nil))))
	require.False(t, IsRetryable(Unretriable(NewBuildFailedError("v1-abc", nil))))
	for _, err := range []error{
		NewBuildFailedError("v1-abc", errors.New("ffmpeg exited 1")),
		NewTokenInvalidError("malformed", nil),
		NewTokenScopeMismatchError("wrong session"),
		NewSessionNotFoundError("s1"),
	} {
		require.False(t, IsRetryable(err), err.Error())
	}
}

func TestStreamingErrorUnwraps(t *testing.T) {
	cause := errors.New("ffmpeg exited 1")
	err := NewBuildFailedError("v1-abc", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "STREAMING_ASSET_BUILD_FAILED")
	require.Contains(t, err.Error(), "v1-abc")
}

func TestWriteHTTPStreamingErrorNotReady(t *testing.T) {
	w := httptest.NewRecorder()
	WriteHTTPStreamingError(w, fmt.Errorf("waiting: %w", NewAssetNotReadyError(1500*time.Millisecond, nil)))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "2", w.Header().Get("retry-after"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "STREAMING_ASSET_NOT_READY", body["code"])
	require.NotEmpty(t, body["error"])
	hint, ok := body["segmentedStartupRetryHint"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, hint["isTransient"])
	require.Equal(t, float64(1500), hint["retryAfterMs"])
}

func TestWriteHTTPStreamingErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewTrackNotFoundError("t1", nil), http.StatusNotFound},
		{NewBuildFailedError("k", nil), http.StatusBadGateway},
		{NewTokenInvalidError("bad", nil), http.StatusUnauthorized},
		{NewTokenScopeMismatchError("scope"), http.StatusForbidden},
		{NewSegmentNotFoundError("../etc/passwd", nil), http.StatusNotFound},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteHTTPStreamingError(w, tt.err)
		require.Equal(t, tt.status, w.Code, tt.err.Error())

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotContains(t, body, "segmentedStartupRetryHint")
		require.Empty(t, w.Header().Get("retry-after"))
	}
}
