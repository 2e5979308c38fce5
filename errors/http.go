package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/livepeer/catalyst-audio/log"
	"github.com/xeipuuv/gojsonschema"
)

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

// RetryHint is the structured hint clients use to schedule a retry of a not-yet-ready asset
type RetryHint struct {
	IsTransient  bool  `json:"isTransient"`
	RetryAfterMs int64 `json:"retryAfterMs"`
}

type streamingErrorBody struct {
	Error     string     `json:"error"`
	Code      Code       `json:"code"`
	RetryHint *RetryHint `json:"segmentedStartupRetryHint,omitempty"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return apiError{msg, status, err}
}

// WriteHTTPStreamingError translates any error from the streaming pipeline into its client-facing
// shape. Errors outside the streaming taxonomy are reported as a generic 500.
func WriteHTTPStreamingError(w http.ResponseWriter, err error) apiError {
	var se *StreamingError
	if !errors.As(err, &se) {
		return WriteHTTPInternalServerError(w, "internal server error", nil)
	}

	body := streamingErrorBody{
		Error: se.Msg,
		Code:  se.Code,
	}
	if se.IsTransient() {
		body.RetryHint = &RetryHint{
			IsTransient:  true,
			RetryAfterMs: se.RetryAfter.Milliseconds(),
		}
		seconds := (se.RetryAfter.Milliseconds() + 999) / 1000
		w.Header().Set("retry-after", strconv.FormatInt(seconds, 10))
	}

	status := se.Status()
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoRequestID("error writing HTTP error", "code", se.Code, "error", err)
	}
	return apiError{se.Msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) apiError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}
