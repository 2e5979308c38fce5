package requests

import (
	"net/http"

	"github.com/livepeer/catalyst-audio/config"
)

const (
	requestIDParam = "requestID"

	// Set by the authenticating proxy in front of the API
	UserIDHeader       = "X-User-Id"
	SessionTokenHeader = "X-Session-Token"
	SessionTokenParam  = "token"
)

func GetRequestId(req *http.Request) string {
	requestID := req.Header.Get(requestIDParam)
	if requestID != "" {
		return requestID
	}
	requestID = config.RandomTrailer(8)
	req.Header.Set(requestIDParam, requestID)
	return requestID
}

func GetUserID(req *http.Request) string {
	return req.Header.Get(UserIDHeader)
}

// GetSessionToken prefers the header and falls back to the query parameter that rewritten
// manifests attach to every segment URI
func GetSessionToken(req *http.Request) string {
	if token := req.Header.Get(SessionTokenHeader); token != "" {
		return token
	}
	return req.URL.Query().Get(SessionTokenParam)
}
