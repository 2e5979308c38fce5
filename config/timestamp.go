package config

import (
	"sync"
	"time"
)

type TimestampGenerator interface {
	Now() time.Time
}

type RealTimestampGenerator struct{}

func (t RealTimestampGenerator) Now() time.Time {
	return time.Now().UTC()
}

type FixedTimestampGenerator struct {
	Timestamp time.Time
}

func (t FixedTimestampGenerator) Now() time.Time {
	return t.Timestamp
}

// SteppedTimestampGenerator is a clock that only moves when told to
type SteppedTimestampGenerator struct {
	mu sync.Mutex
	t  time.Time
}

func NewSteppedTimestampGenerator(start time.Time) *SteppedTimestampGenerator {
	return &SteppedTimestampGenerator{t: start}
}

func (s *SteppedTimestampGenerator) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *SteppedTimestampGenerator) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = s.t.Add(d)
}
