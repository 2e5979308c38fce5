package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/catalyst-audio/metrics"
)

// BuildCounter reports how many asset builds this process is running
type BuildCounter interface {
	InFlightBuilds() int
}

type CapacityMiddleware struct {
	createRequestsInFlight atomic.Int64
	MaxInFlightBuilds      int
}

// HasCapacity turns away session creation once running builds plus pending create requests
// reach the limit. A limit of zero disables the check.
func (c *CapacityMiddleware) HasCapacity(builds BuildCounter, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Keep a gauge of HTTP requests in flight
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)

		inFlightCreates := c.createRequestsInFlight.Add(1)
		defer c.createRequestsInFlight.Add(-1)

		if c.MaxInFlightBuilds > 0 && builds.InFlightBuilds()+int(inFlightCreates) > c.MaxInFlightBuilds {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next(w, r, ps)
	}
}
