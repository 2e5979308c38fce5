package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in this process only
type MemoryStore struct {
	sessions *gocache.Cache
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{sessions: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryStore) Put(_ context.Context, s Session, ttl time.Duration) error {
	m.sessions.Set(s.SessionID, s, ttl)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	v, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	s := v.(Session)
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.sessions.Delete(sessionID)
	return nil
}
