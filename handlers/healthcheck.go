package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/catalyst-audio/log"
)

type HealthcheckResponse struct {
	Status string `json:"status"`
}

// Returns an HTTP 200 if the API is running and the cache root is reachable
// Used by the load balancer to determine whether to route to a node
func (d *StreamingHandlersCollection) Healthcheck(cacheRoot string) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		responseObject := HealthcheckResponse{
			Status: "healthy",
		}
		if info, err := os.Stat(cacheRoot); err != nil || !info.IsDir() {
			responseObject.Status = "cache root unavailable"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		b, err := json.Marshal(responseObject)
		if err != nil {
			log.LogNoRequestID("Failed to marshal healthcheck status: " + err.Error())
			b = []byte(`{"status": "marshalling status failed"}`)
		}

		if _, err := io.Writer.Write(w, b); err != nil {
			log.LogNoRequestID("Failed to write HTTP response for " + req.URL.RawPath)
		}
	}
}
