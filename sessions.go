package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ttpcard/crop"
)

type sessionEntry struct {
	session  *crop.Session
	lastUsed time.Time
}

// SessionStore keeps the crop sessions of the editor in memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

func (s *SessionStore) Create(src *crop.SourceImage) (string, *crop.Session) {
	id := uuid.NewString()
	session := crop.NewSession(src, crop.CardPhotoAspect)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &sessionEntry{session: session, lastUsed: s.now()}
	return id, session
}

func (s *SessionStore) Get(id string) (*crop.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = s.now()
	return e.session, true
}

func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Expire drops sessions unused for longer than maxIdle and returns how many
// were removed.
func (s *SessionStore) Expire(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	n := 0
	for id, e := range s.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RunExpiry calls Expire every interval until ctx is done.
func (s *SessionStore) RunExpiry(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Expire(maxIdle); n > 0 {
				log.Ctx(ctx).Debug().Int("count", n).Msg("expired idle crop sessions")
			}
		}
	}
}
