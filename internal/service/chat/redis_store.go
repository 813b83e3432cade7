package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
)

const defaultSessionTTL = 24 * time.Hour

// RedisStore keeps sessions as JSON blobs and transcripts as lists, both expiring.
type RedisStore struct {
	rc  redis.UniversalClient
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using rc; ttl <= 0 falls back to 24h.
func NewRedisStore(rc redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{rc: rc, ttl: ttl}
}

func sessionKey(id string) string  { return "explain:session:" + id }
func messagesKey(id string) string { return "explain:messages:" + id }

func (s *RedisStore) CreateSession(ctx context.Context, session chat.Session) error {
	b, err := json.Marshal(redisSession{Session: session, ImageURI: session.ImageURI})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.rc.Set(ctx, sessionKey(session.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	b, err := s.rc.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(b, &stored); err != nil {
		return chat.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	session := stored.Session
	session.ImageURI = stored.ImageURI
	return session, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, message chat.Message) error {
	if err := s.exists(ctx, message.SessionID); err != nil {
		return err
	}

	b, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := messagesKey(message.SessionID)
	pipe := s.rc.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.Expire(ctx, key, s.ttl)
	pipe.Expire(ctx, sessionKey(message.SessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger().Infow("append message fail", "key", key, "err", err)
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *RedisStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	items, err := s.rc.LRange(ctx, messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	n, err := s.rc.Del(ctx, sessionKey(sessionID), messagesKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) exists(ctx context.Context, sessionID string) error {
	n, err := s.rc.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// redisSession keeps the capture, which chat.Session hides from JSON responses.
type redisSession struct {
	chat.Session
	ImageURI string `json:"imageUri"`
}
