package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/catalyst-audio/config"
	"github.com/livepeer/catalyst-audio/handlers"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/middleware"
)

func ListenAndServe(ctx context.Context, cli config.Cli, sessions handlers.Sessions, builds middleware.BuildCounter) error {
	router := NewStreamingAPIRouter(cli, sessions, builds)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting streaming API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewStreamingAPIRouter(cli config.Cli, sessions handlers.Sessions, builds middleware.BuildCounter) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS()
	withAuth := middleware.IsAuthorized
	capacity := &middleware.CapacityMiddleware{MaxInFlightBuilds: cli.MaxInFlightBuilds}

	streamingHandlers := &handlers.StreamingHandlersCollection{Sessions: sessions}

	// Simple endpoints for healthchecks
	router.GET("/ok", withLogging(streamingHandlers.Ok()))
	router.GET("/healthcheck", withLogging(streamingHandlers.Healthcheck(cli.CacheRoot)))

	// Session creation arrives through the authenticating proxy
	router.POST("/api/stream/sessions",
		withLogging(
			withCORS(
				withAuth(
					cli.APIToken,
					capacity.HasCapacity(
						builds,
						streamingHandlers.CreateSession(),
					),
				),
			),
		),
	)

	// Player facing endpoints, authorized by the session token
	router.GET("/api/stream/sessions/:sessionId/manifest", withLogging(withCORS(streamingHandlers.Manifest())))
	router.GET("/api/stream/sessions/:sessionId/segments/:file", withLogging(withCORS(streamingHandlers.Segment())))
	router.POST("/api/stream/sessions/:sessionId/heartbeat", withLogging(withCORS(streamingHandlers.Heartbeat())))
	router.DELETE("/api/stream/sessions/:sessionId", withLogging(withCORS(streamingHandlers.EndSession())))

	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", w.Header().Get("Allow"))
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}
