package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Code is the stable, client-visible identifier of a streaming failure
type Code string

const (
	TrackNotFound      Code = "TRACK_NOT_FOUND"
	AssetNotReady      Code = "STREAMING_ASSET_NOT_READY"
	AssetBuildFailed   Code = "STREAMING_ASSET_BUILD_FAILED"
	TokenInvalid       Code = "STREAMING_SESSION_TOKEN_INVALID"
	TokenScopeMismatch Code = "STREAMING_SESSION_TOKEN_SCOPE_MISMATCH"
	SessionNotFound    Code = "STREAMING_SESSION_NOT_FOUND"
	SegmentNotFound    Code = "STREAMING_SEGMENT_NOT_FOUND"
)

var statusByCode = map[Code]int{
	TrackNotFound:      http.StatusNotFound,
	AssetNotReady:      http.StatusServiceUnavailable,
	AssetBuildFailed:   http.StatusBadGateway,
	TokenInvalid:       http.StatusUnauthorized,
	TokenScopeMismatch: http.StatusForbidden,
	SessionNotFound:    http.StatusNotFound,
	SegmentNotFound:    http.StatusNotFound,
}

type StreamingError struct {
	Code Code
	Msg  string
	// Only set for transient failures
	RetryAfter time.Duration
	Err        error
}

func (e *StreamingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *StreamingError) Unwrap() error {
	return e.Err
}

func (e *StreamingError) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *StreamingError) IsTransient() bool {
	return e.Code == AssetNotReady
}

func NewTrackNotFoundError(trackID string, err error) error {
	return &StreamingError{Code: TrackNotFound, Msg: fmt.Sprintf("track %q not found", trackID), Err: err}
}

func NewAssetNotReadyError(retryAfter time.Duration, err error) error {
	return &StreamingError{Code: AssetNotReady, Msg: "streaming asset is not ready yet", RetryAfter: retryAfter, Err: err}
}

func NewBuildFailedError(cacheKey string, err error) error {
	return &StreamingError{Code: AssetBuildFailed, Msg: fmt.Sprintf("build of streaming asset %s failed", cacheKey), Err: err}
}

func NewTokenInvalidError(msg string, err error) error {
	return &StreamingError{Code: TokenInvalid, Msg: msg, Err: err}
}

func NewTokenScopeMismatchError(msg string) error {
	return &StreamingError{Code: TokenScopeMismatch, Msg: msg}
}

func NewSessionNotFoundError(sessionID string) error {
	return &StreamingError{Code: SessionNotFound, Msg: fmt.Sprintf("session %q not found", sessionID)}
}

func NewSegmentNotFoundError(file string, err error) error {
	return &StreamingError{Code: SegmentNotFound, Msg: fmt.Sprintf("segment %q not found", file), Err: err}
}

// CodeOf returns the streaming error code anywhere in err's chain, or "" if there is none
func CodeOf(err error) Code {
	var se *StreamingError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable is true only for failures a client may retry with the same input
func IsRetryable(err error) bool {
	var se *StreamingError
	return errors.As(err, &se) && se.IsTransient()
}

type UnretriableError struct {
	error
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// Unretriable returns an error that should be treated as final. This effectively makes the error
// short-circuit any backoff.Retry loop.
func Unretriable(err error) error {
	return backoff.Permanent(UnretriableError{err})
}

var (
	ErrInvalidQuality    = errors.New("invalid quality")
	ErrUnsupportedSource = errors.New("unsupported source type")
)
