package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
	chat "github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
)

func stores(t *testing.T) map[string]chat.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	return map[string]chat.Store{
		"memory": chat.NewMemoryStore(0),
		"redis":  chat.NewRedisStore(rc, time.Hour),
	}
}

func TestServiceGetSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := chat.NewService(store)
			ctx := context.Background()

			session, err := svc.CreateSession(ctx, "fees", "data:image/png;base64,AAAA", `{"fastestFee": 5}`)
			require.NoError(t, err)

			got, err := svc.GetSession(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, session.ID, got.ID)
			assert.Equal(t, "fees", got.TopicID)
			assert.Equal(t, "data:image/png;base64,AAAA", got.ImageURI)
			assert.Equal(t, `{"fastestFee": 5}`, got.Data)
		})
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := chat.NewService(store)
			_, err := svc.GetSession(context.Background(), "missing")
			assert.ErrorIs(t, err, chat.ErrSessionNotFound)
		})
	}
}

func TestServiceTranscriptKeepsOrderAndClears(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := chat.NewService(store)
			ctx := context.Background()

			session, err := svc.CreateSession(ctx, "fees", "", "")
			require.NoError(t, err)

			contents := []string{"Explain this chart.", "Fees are low.", "Why?", "Few transactions are waiting."}
			for i, content := range contents {
				saved, err := svc.SaveMessage(ctx, model.Message{SessionID: session.ID, Content: content, IsUser: i%2 == 0})
				require.NoError(t, err)
				assert.NotEmpty(t, saved.ID)
				assert.False(t, saved.Timestamp.IsZero())
			}

			transcript, err := svc.LoadTranscript(ctx, session.ID)
			require.NoError(t, err)
			require.Len(t, transcript, len(contents))
			for i, msg := range transcript {
				assert.Equal(t, contents[i], msg.Content)
				assert.Equal(t, i%2 == 0, msg.IsUser)
			}

			require.NoError(t, svc.CloseSession(ctx, session.ID))

			_, err = svc.LoadTranscript(ctx, session.ID)
			assert.ErrorIs(t, err, chat.ErrSessionNotFound)
			_, err = svc.SaveMessage(ctx, model.Message{SessionID: session.ID, Content: "late"})
			assert.ErrorIs(t, err, chat.ErrSessionNotFound)
			assert.ErrorIs(t, svc.CloseSession(ctx, session.ID), chat.ErrSessionNotFound)
		})
	}
}

func TestServiceValidation(t *testing.T) {
	svc := chat.NewService(chat.NewMemoryStore(0))
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, " ", "", "")
	assert.ErrorIs(t, err, chat.ErrTopicRequired)

	session, err := svc.CreateSession(ctx, "fees", "", "")
	require.NoError(t, err)
	_, err = svc.SaveMessage(ctx, model.Message{SessionID: session.ID, Content: "  "})
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)
}

func TestServiceAcquire(t *testing.T) {
	svc := chat.NewService(chat.NewMemoryStore(0))

	release, err := svc.Acquire("s1")
	require.NoError(t, err)

	_, err = svc.Acquire("s1")
	assert.ErrorIs(t, err, chat.ErrSessionBusy)

	other, err := svc.Acquire("s2")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := svc.Acquire("s1")
	require.NoError(t, err)
	again()
}

func TestRedisStoreExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	svc := chat.NewService(chat.NewRedisStore(rc, time.Minute))
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "fees", "", "")
	require.NoError(t, err)
	_, err = svc.SaveMessage(ctx, model.Message{SessionID: session.ID, Content: "hi", IsUser: true})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}
