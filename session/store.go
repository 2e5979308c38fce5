package session

import (
	"context"
	"time"
)

// Store persists session records with a TTL. Get returns nil, nil for unknown or expired sessions.
type Store interface {
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
