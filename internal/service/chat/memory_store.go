package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory. Sessions idle for longer than
// the TTL are dropped, like their Redis counterparts.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	touched  map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store; ttl <= 0 falls back to 24h.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		touched:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.touched[session.ID] = s.now()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(sessionID) {
		return chat.Session{}, ErrSessionNotFound
	}
	return s.sessions[sessionID], nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, message chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(message.SessionID) {
		return ErrSessionNotFound
	}
	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	s.touched[message.SessionID] = s.now()
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(sessionID) {
		return nil, ErrSessionNotFound
	}
	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.liveLocked(sessionID) {
		return ErrSessionNotFound
	}
	s.deleteLocked(sessionID)
	return nil
}

// liveLocked reports whether sessionID exists, evicting it when expired.
func (s *MemoryStore) liveLocked(sessionID string) bool {
	touched, ok := s.touched[sessionID]
	if !ok {
		return false
	}
	if s.now().Sub(touched) > s.ttl {
		s.deleteLocked(sessionID)
		return false
	}
	return true
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, touched := range s.touched {
		if now.Sub(touched) > s.ttl {
			s.deleteLocked(id)
		}
	}
}

func (s *MemoryStore) deleteLocked(sessionID string) {
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	delete(s.touched, sessionID)
}
