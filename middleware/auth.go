package middleware

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	caterrs "github.com/livepeer/catalyst-audio/errors"
)

// IsAuthorized guards routes called by the trusted proxy in front of the API. An empty apiToken
// disables the check.
func IsAuthorized(apiToken string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if apiToken == "" {
			next(w, r, ps)
			return
		}

		authHeader := r.Header.Get("Authorization")

		if authHeader == "" {
			caterrs.WriteHTTPUnauthorized(w, "No authorization header", nil)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")

		if token != apiToken {
			caterrs.WriteHTTPUnauthorized(w, "Invalid Token", nil)
			return
		}

		next(w, r, ps)
	}
}
