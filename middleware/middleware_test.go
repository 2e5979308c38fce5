package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/requests"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	_, _ = w.Write([]byte("OK"))
}

func TestNoAuthHeader(t *testing.T) {
	require := require.New(t)

	req, _ := http.NewRequest("GET", "/ok", nil)
	rr := httptest.NewRecorder()
	IsAuthorized("IAmAuthorized", okHandler)(rr, req, nil)

	require.Equal(401, rr.Code, "should return 401")
	require.Contains(strings.TrimRight(rr.Body.String(), "\n"), `"error":"No authorization header"`)
}

func TestWrongKey(t *testing.T) {
	require := require.New(t)

	req, _ := http.NewRequest("GET", "/ok", nil)
	req.Header.Set("Authorization", "Bearer gibberish")
	rr := httptest.NewRecorder()
	IsAuthorized("IAmAuthorized", okHandler)(rr, req, nil)

	require.Equal(401, rr.Code, "should return 401")
	require.Contains(strings.TrimRight(rr.Body.String(), "\n"), `"error":"Invalid Token"`)
}

func TestCorrectKey(t *testing.T) {
	req, _ := http.NewRequest("GET", "/ok", nil)
	req.Header.Set("Authorization", "Bearer IAmAuthorized")
	rr := httptest.NewRecorder()
	IsAuthorized("IAmAuthorized", okHandler)(rr, req, nil)
	require.Equal(t, 200, rr.Code)

	rr = httptest.NewRecorder()
	IsAuthorized("", okHandler)(rr, httptest.NewRequest("GET", "/ok", nil), nil)
	require.Equal(t, 200, rr.Code, "an empty API token disables the check")
}

func TestLogRequestRecoversPanics(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		panic("boom")
	})
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest("GET", "/ok", nil), nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestLogRequestPassesStatusThrough(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest("GET", "/ok", nil), nil)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestAllowCORS(t *testing.T) {
	rr := httptest.NewRecorder()
	AllowCORS()(okHandler)(rr, httptest.NewRequest("GET", "/ok", nil), nil)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Retry-After", rr.Header().Get("Access-Control-Expose-Headers"))
}

func TestLogRequestAddsRequestIDToContext(t *testing.T) {
	var fromContext, fromHeader string
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		fromContext = log.RequestID(r.Context())
		fromHeader = requests.GetRequestId(r)
	})

	req := httptest.NewRequest("GET", "/ok", nil)
	req.Header.Set("requestID", "abc123")
	handler(httptest.NewRecorder(), req, nil)
	require.Equal(t, "abc123", fromContext)
	require.Equal(t, "abc123", fromHeader)

	handler(httptest.NewRecorder(), httptest.NewRequest("GET", "/ok", nil), nil)
	require.NotEmpty(t, fromContext)
	require.Equal(t, fromHeader, fromContext, "a generated id is shared by the handler and its context")
}
