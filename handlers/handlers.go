package handlers

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/livepeer/catalyst-audio/session"
)

// Sessions is the part of the session registry the HTTP boundary drives
type Sessions interface {
	CreateLocalSession(ctx context.Context, req session.CreateRequest) (session.Descriptor, error)
	GetAuthorizedSession(ctx context.Context, sessionID, userID string) (*session.Session, error)
	HeartbeatSession(ctx context.Context, s *session.Session, update session.HeartbeatUpdate) error
	EndSession(ctx context.Context, s *session.Session) error
	ValidateSessionToken(s *session.Session, token string, opts session.ValidateOptions) error
	WaitForManifestReady(ctx context.Context, s *session.Session) error
	TokenSubject(token string) (string, error)
}

type StreamingHandlersCollection struct {
	Sessions Sessions
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-type")
	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}
	return false
}
