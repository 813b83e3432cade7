package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/fees"
)

const (
	defaultReconnectDelay = 5 * time.Second
	pingInterval          = 30 * time.Second
	writeTimeout          = 10 * time.Second
)

// Watcher tracks the latest recommended fees pushed over the explorer websocket.
type Watcher struct {
	url    string
	delay  time.Duration
	dialer *websocket.Dialer

	mu      sync.RWMutex
	latest  fees.RecommendedFees
	updated time.Time
}

type actionMessage struct {
	Action string   `json:"action"`
	Data   []string `json:"data,omitempty"`
}

type frame struct {
	Fees *fees.RecommendedFees `json:"fees"`
}

// NewWatcher creates a watcher; delay <= 0 uses 5s between reconnects.
func NewWatcher(url string, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Watcher{
		url:    url,
		delay:  delay,
		dialer: websocket.DefaultDialer,
	}
}

// Run keeps a subscription open until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	for {
		err := w.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		logger().Warnw("fees websocket disconnected", "url", w.url, "err", err, "retryIn", w.delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.delay):
		}
	}
}

// Latest returns the last fees received and when; ok is false before the first frame.
func (w *Watcher) Latest() (fees.RecommendedFees, time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, w.updated, !w.updated.IsZero()
}

// ParsedData renders the latest fees for the model; ok is false before the first frame.
func (w *Watcher) ParsedData() (string, bool) {
	latest, _, ok := w.Latest()
	if !ok {
		return "", false
	}
	data, err := latest.ParsedData()
	if err != nil {
		return "", false
	}
	return data, true
}

// Update stores a fee snapshot.
func (w *Watcher) Update(f fees.RecommendedFees) {
	w.mu.Lock()
	w.latest = f
	w.updated = time.Now().UTC()
	w.mu.Unlock()
}

func (w *Watcher) subscribe(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial %s (status %d): %w", w.url, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial %s: %w", w.url, err)
	}
	defer conn.Close()

	for _, msg := range []actionMessage{
		{Action: "init"},
		{Action: "want", Data: []string{"stats"}},
	} {
		if err := writeJSON(conn, msg); err != nil {
			return err
		}
	}
	logger().Infow("fees websocket subscribed", "url", w.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// unblock ReadMessage
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := writeJSON(conn, actionMessage{Action: "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed connection")
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			logger().Debugw("skip undecodable frame", "err", err)
			continue
		}
		if f.Fees == nil {
			continue
		}
		w.Update(*f.Fees)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

func logger() *zap.SugaredLogger {
	return zap.S()
}
