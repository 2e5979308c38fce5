package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/playback"
	"github.com/livepeer/catalyst-audio/requests"
	"github.com/livepeer/catalyst-audio/session"
	"github.com/xeipuuv/gojsonschema"
)

// Segment URIs in served manifests are relative to the manifest route
const segmentRoutePrefix = "segments"

type CreateSessionRequest struct {
	TrackID string `json:"trackId"`
	// Only library tracks are streamed, so this is "local" or empty
	SourceType     string `json:"sourceType,omitempty"`
	DesiredQuality string `json:"desiredQuality,omitempty"`
}

type HeartbeatRequest struct {
	PositionSec float64 `json:"positionSec"`
	IsPlaying   bool    `json:"isPlaying"`
}

func (d *StreamingHandlersCollection) CreateSession() httprouter.Handle {
	schema := inputSchemasCompiled["CreateSession"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		requestID := requests.GetRequestId(req)
		userID := requests.GetUserID(req)
		if userID == "" {
			caterrs.WriteHTTPUnauthorized(w, "missing user identity", nil)
			return
		}

		var createRequest CreateSessionRequest
		if !HasContentType(req, "application/json") {
			caterrs.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			caterrs.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			caterrs.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		} else if !result.Valid() {
			caterrs.WriteHTTPBadBodySchema("CreateSession", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &createRequest); err != nil {
			caterrs.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		descriptor, err := d.Sessions.CreateLocalSession(req.Context(), session.CreateRequest{
			RequestID:      requestID,
			UserID:         userID,
			TrackID:        createRequest.TrackID,
			SourceType:     createRequest.SourceType,
			DesiredQuality: createRequest.DesiredQuality,
		})
		if err != nil {
			log.LogError(requestID, "failed to create streaming session", err, "track_id", createRequest.TrackID)
			if session.IsBadRequest(err) {
				caterrs.WriteHTTPBadRequest(w, "Invalid request payload", err)
				return
			}
			caterrs.WriteHTTPStreamingError(w, err)
			return
		}

		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(descriptor); err != nil {
			log.LogError(requestID, "failed to write session descriptor", err)
		}
	}
}

// Manifest blocks until the asset can be played without stalling, then serves the playlist with
// every segment URI carrying the session token
func (d *StreamingHandlersCollection) Manifest() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)
		s, token, ok := d.authorize(w, req, params, session.ValidateOptions{})
		if !ok {
			return
		}

		if err := d.Sessions.WaitForManifestReady(req.Context(), s); err != nil {
			if caterrs.IsRetryable(err) {
				log.V(5).Log(requestID, "manifest not ready yet", "session_id", s.SessionID, "cache_key", s.CacheKey)
			} else {
				log.LogError(requestID, "manifest not available", err, "session_id", s.SessionID, "cache_key", s.CacheKey)
			}
			caterrs.WriteHTTPStreamingError(w, err)
			return
		}

		manifest, err := playback.Manifest(playback.ManifestRequest{
			RequestID:     requestID,
			ManifestPath:  s.ManifestPath,
			SegmentPrefix: segmentRoutePrefix,
			Token:         token,
		})
		if err != nil {
			log.LogError(requestID, "failed to render manifest", err, "session_id", s.SessionID)
			caterrs.WriteHTTPStreamingError(w, err)
			return
		}

		w.Header().Set("content-type", playback.ContentType(s.ManifestPath))
		// The playlist grows while the build runs
		w.Header().Set("cache-control", "no-store")
		if _, err := io.Copy(w, manifest); err != nil {
			log.LogError(requestID, "failed to write manifest", err)
		}
	}
}

// Segment serves init and media segments. Tokens scoped to another session of the same user and
// track are accepted, since segment fetches can race a session being replaced.
func (d *StreamingHandlersCollection) Segment() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)
		s, _, ok := d.authorize(w, req, params, session.ValidateOptions{AllowSessionIDMismatch: true})
		if !ok {
			return
		}

		path, err := session.ResolveSegmentPath(s, params.ByName("file"))
		if err != nil {
			caterrs.WriteHTTPStreamingError(w, err)
			return
		}
		segment, err := playback.Segment(path)
		if err != nil {
			log.LogError(requestID, "failed to open segment", err, "session_id", s.SessionID, "file", params.ByName("file"))
			caterrs.WriteHTTPStreamingError(w, err)
			return
		}
		defer segment.Body.Close()

		w.Header().Set("content-type", segment.ContentType)
		w.Header().Set("cache-control", "private, max-age=86400, immutable")
		http.ServeContent(w, req, params.ByName("file"), segment.ModTime, segment.Body)
	}
}

func (d *StreamingHandlersCollection) Heartbeat() httprouter.Handle {
	schema := inputSchemasCompiled["Heartbeat"]

	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)
		s, _, ok := d.authorize(w, req, params, session.ValidateOptions{})
		if !ok {
			return
		}

		var heartbeat HeartbeatRequest
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			caterrs.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		}
		if len(payload) > 0 {
			result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
			if err != nil {
				caterrs.WriteHTTPBadRequest(w, "Invalid request payload", err)
				return
			}
			if !result.Valid() {
				caterrs.WriteHTTPBadBodySchema("Heartbeat", w, result.Errors())
				return
			}
			if err := json.Unmarshal(payload, &heartbeat); err != nil {
				caterrs.WriteHTTPBadRequest(w, "Invalid request payload", err)
				return
			}
		}

		if err := d.Sessions.HeartbeatSession(req.Context(), s, session.HeartbeatUpdate{
			PositionSec: heartbeat.PositionSec,
			IsPlaying:   heartbeat.IsPlaying,
		}); err != nil {
			log.LogError(requestID, "failed to refresh session", err, "session_id", s.SessionID)
			caterrs.WriteHTTPInternalServerError(w, "failed to refresh session", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (d *StreamingHandlersCollection) EndSession() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)
		s, _, ok := d.authorize(w, req, params, session.ValidateOptions{})
		if !ok {
			return
		}
		if err := d.Sessions.EndSession(req.Context(), s); err != nil {
			log.LogError(requestID, "failed to end session", err, "session_id", s.SessionID)
			caterrs.WriteHTTPInternalServerError(w, "failed to end session", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// authorize loads the session named in the route and checks the request's token against it.
// It writes the error response itself and reports whether the handler should continue.
func (d *StreamingHandlersCollection) authorize(w http.ResponseWriter, req *http.Request, params httprouter.Params, opts session.ValidateOptions) (*session.Session, string, bool) {
	requestID := requests.GetRequestId(req)
	sessionID := params.ByName("sessionId")

	token := requests.GetSessionToken(req)
	if token == "" {
		caterrs.WriteHTTPStreamingError(w, caterrs.NewTokenInvalidError("missing session token", nil))
		return nil, "", false
	}

	userID := requests.GetUserID(req)
	if userID == "" {
		subject, err := d.Sessions.TokenSubject(token)
		if err != nil {
			caterrs.WriteHTTPStreamingError(w, err)
			return nil, "", false
		}
		userID = subject
	}

	s, err := d.Sessions.GetAuthorizedSession(req.Context(), sessionID, userID)
	if err != nil {
		log.LogError(requestID, "failed to load session", err, "session_id", sessionID)
		caterrs.WriteHTTPInternalServerError(w, "failed to load session", err)
		return nil, "", false
	}
	if s == nil {
		caterrs.WriteHTTPStreamingError(w, caterrs.NewSessionNotFoundError(sessionID))
		return nil, "", false
	}

	if err := d.Sessions.ValidateSessionToken(s, token, opts); err != nil {
		log.Log(requestID, "rejected session token", "session_id", sessionID, "code", caterrs.CodeOf(err))
		caterrs.WriteHTTPStreamingError(w, err)
		return nil, "", false
	}
	return s, token, true
}
