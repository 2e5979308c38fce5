package session

import (
	"time"

	"github.com/livepeer/catalyst-audio/pipeline"
)

type State string

const (
	StateCreated    State = "CREATED"
	StateAuthorized State = "AUTHORIZED"
	StateExpired    State = "EXPIRED"

	SourceTypeLocal = "local"
)

// Session is one client's playback of one track
type Session struct {
	SessionID    string           `json:"sessionId"`
	UserID       string           `json:"userId"`
	TrackID      string           `json:"trackId"`
	CacheKey     string           `json:"cacheKey"`
	Quality      Quality          `json:"quality"`
	SourceType   string           `json:"sourceType"`
	Profile      pipeline.Profile `json:"profile"`
	ManifestPath string           `json:"manifestPath"`
	AssetDir     string           `json:"assetDir"`
	CreatedAt    time.Time        `json:"createdAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	// Zero until the first heartbeat
	LastRefreshedAt time.Time `json:"lastRefreshedAt"`
	PositionSec     float64   `json:"positionSec"`
	IsPlaying       bool      `json:"isPlaying"`
}

func (s *Session) State(now time.Time) State {
	if now.After(s.ExpiresAt) {
		return StateExpired
	}
	if s.LastRefreshedAt.After(s.CreatedAt) {
		return StateAuthorized
	}
	return StateCreated
}

type EngineHints struct {
	// The asset is still being built, so the manifest will keep growing
	BuildInFlight   bool  `json:"buildInFlight"`
	PlaylistClosed  bool  `json:"playlistClosed"`
	StartupWindowMs int64 `json:"startupWindowMs"`
	RetryAfterMs    int64 `json:"retryAfterMs"`
}

// Descriptor is what a client gets back when it starts playing a track
type Descriptor struct {
	SessionID    string           `json:"sessionId"`
	ManifestURL  string           `json:"manifestUrl"`
	SessionToken string           `json:"sessionToken"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	EngineHints  EngineHints      `json:"engineHints"`
	Profile      pipeline.Profile `json:"profile"`
}

type CreateRequest struct {
	RequestID      string
	UserID         string
	TrackID        string
	// Empty means a library track
	SourceType     string
	DesiredQuality string
}

type HeartbeatUpdate struct {
	PositionSec float64
	IsPlaying   bool
}

type ValidateOptions struct {
	// Accept a token scoped to another session of the same user and track. Only meant for media
	// segment requests that can race a session refresh.
	AllowSessionIDMismatch bool
}
