package fees

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/fees"
)

func newFeesServer(t *testing.T, frames []string) (*httptest.Server, func() []actionMessage) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []actionMessage
	)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			var msg actionMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []actionMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]actionMessage(nil), received...)
	}
}

func TestWatcherTracksLatestFees(t *testing.T) {
	srv, received := newFeesServer(t, []string{
		`{"conversions":{"USD":60000}}`,
		`not json`,
		`{"fees":{"fastestFee":30,"halfHourFee":20,"hourFee":10,"economyFee":5,"minimumFee":1}}`,
		`{"fees":{"fastestFee":12,"halfHourFee":9,"hourFee":7,"economyFee":4,"minimumFee":2}}`,
	})

	w := NewWatcher("ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond)
	_, _, ok := w.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		latest, _, ok := w.Latest()
		return ok && latest.FastestFee == 12
	}, 2*time.Second, 10*time.Millisecond)

	latest, updated, _ := w.Latest()
	assert.Equal(t, fees.RecommendedFees{FastestFee: 12, HalfHourFee: 9, HourFee: 7, EconomyFee: 4, MinimumFee: 2}, latest)
	assert.False(t, updated.IsZero())

	msgs := received()
	require.Len(t, msgs, 2)
	assert.Equal(t, "init", msgs[0].Action)
	assert.Equal(t, "want", msgs[1].Action)
	assert.Equal(t, []string{"stats"}, msgs[1].Data)

	data, ok := w.ParsedData()
	require.True(t, ok)
	assert.Contains(t, data, `"fastestFee": 12`)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatcherStopsWhileReconnecting(t *testing.T) {
	w := NewWatcher("ws://127.0.0.1:1/api/v1/ws", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
