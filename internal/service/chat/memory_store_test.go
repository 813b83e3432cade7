package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestMemoryStoreExpiresIdleSessions(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(time.Hour)
	store.now = clock.now
	svc := NewService(store)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "fees", "data:image/png;base64,AAAA", "")
	require.NoError(t, err)

	clock.t = clock.t.Add(50 * time.Minute)
	_, err = svc.SaveMessage(ctx, chat.Message{SessionID: session.ID, Content: "hi", IsUser: true})
	require.NoError(t, err)

	// activity refreshes the deadline
	clock.t = clock.t.Add(50 * time.Minute)
	_, err = svc.GetSession(ctx, session.ID)
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Hour)
	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.LoadTranscript(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, store.sessions)
}

func TestMemoryStoreSweepsAbandonedSessions(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(24 * time.Hour)
	store.now = clock.now
	svc := NewService(store)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := svc.CreateSession(ctx, "fees", "data:image/png;base64,AAAA", "")
		require.NoError(t, err)
	}
	require.Len(t, store.sessions, 50)

	clock.t = clock.t.Add(72 * time.Hour)
	fresh, err := svc.CreateSession(ctx, "fees", "data:image/png;base64,AAAA", "")
	require.NoError(t, err)

	assert.Len(t, store.sessions, 1)
	assert.Len(t, store.messages, 1)
	assert.Contains(t, store.sessions, fresh.ID)
}
