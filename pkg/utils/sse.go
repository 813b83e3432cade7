package utils

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jpillora/eventsource"
	"go.uber.org/zap"
)

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent 写入一条SSE消息并刷新，失败时返回 false
func WriteEvent(w io.Writer, id string, payload any) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		zap.S().Infow("json marshal fail", "payload", payload, "err", err)
		return false
	}

	if err := eventsource.WriteEvent(w, eventsource.Event{
		ID:   id,
		Data: b,
	}); err != nil {
		zap.S().Infow("eventsource write fail", "err", err)
		return false
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return true
}
