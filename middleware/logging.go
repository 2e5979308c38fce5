package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/julienschmidt/httprouter"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/requests"
)

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func LogRequest() func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		fn := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			start := time.Now()
			requestID := requests.GetRequestId(r)
			wrapped := wrapResponseWriter(w)

			defer func() {
				if err := recover(); err != nil {
					if !wrapped.wroteHeader {
						caterrs.WriteHTTPInternalServerError(wrapped, "Internal Server Error", nil)
					}
					wrapped.status = http.StatusInternalServerError
					log.Log(requestID, "panic handling request", "err", err, "trace", string(debug.Stack()))
				}
				log.Log(requestID, "http request",
					"remote", r.RemoteAddr,
					"proto", r.Proto,
					"method", r.Method,
					"uri", r.URL.Path,
					"duration", time.Since(start),
					"status", wrapped.status,
				)
			}()

			// Lets code below the handlers log against this request through its context
			r = r.WithContext(log.WithLogValues(r.Context(), "request_id", requestID))
			next(wrapped, r, ps)
		}

		return fn
	}
}
