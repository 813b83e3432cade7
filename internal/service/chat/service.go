package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
)

var (
	ErrTopicRequired   = errors.New("topic id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session already has a request in flight")
	ErrEmptyMessage    = errors.New("message content is empty")
)

// Store persists sessions and their transcripts.
type Store interface {
	CreateSession(ctx context.Context, session chat.Session) error
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	AppendMessage(ctx context.Context, message chat.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Service encapsulates conversation state management.
type Service struct {
	store Store

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService bootstraps the chat service over the supplied store.
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		inflight: make(map[string]struct{}),
	}
}

// CreateSession provisions a session bound to a topic and capture.
func (s *Service) CreateSession(ctx context.Context, topicID, imageURI, data string) (chat.Session, error) {
	if strings.TrimSpace(topicID) == "" {
		return chat.Session{}, ErrTopicRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		TopicID:   topicID,
		ImageURI:  imageURI,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// SaveMessage appends a message to the session history and returns it with id and timestamp set.
func (s *Service) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}
	if strings.TrimSpace(message.Content) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	message.ID = uuid.NewString()
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// CloseSession removes the session and every message it holds.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// Acquire marks the session busy until release is called.
func (s *Service) Acquire(sessionID string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[sessionID]; ok {
		return nil, ErrSessionBusy
	}
	s.inflight[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inflight, sessionID)
			s.mu.Unlock()
		})
	}, nil
}
