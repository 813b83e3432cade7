package stream

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/mempool-lens/backend/internal/handler/explain"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
	"github.com/zhouzirui/mempool-lens/backend/pkg/utils"
)

// Handler manages streaming explanations via Server-Sent Events
type Handler struct {
	svc *explainer.Service
}

// New creates a new stream handler
func New(svc *explainer.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/explanations/{sessionID}/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

type eventWriter struct {
	w   http.ResponseWriter
	seq int
}

func (e *eventWriter) send(resp StreamResponse) bool {
	e.seq++
	return utils.WriteEvent(e.w, strconv.Itoa(e.seq), resp)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	question := strings.TrimSpace(r.URL.Query().Get("message"))

	if _, ok := w.(http.Flusher); !ok {
		utils.RespondError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if question == "" {
		utils.RespondError(w, r, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if _, _, err := h.svc.Transcript(ctx, sessionID); err != nil {
		explain.RespondFailure(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	events := &eventWriter{w: w}
	events.send(StreamResponse{Event: "start", SessionID: sessionID})

	result, err := h.svc.AskStream(ctx, sessionID, question, func(delta string) error {
		if !events.send(StreamResponse{Event: "delta", SessionID: sessionID, Content: delta}) {
			return errClientGone
		}
		return nil
	})
	if err != nil {
		_, message := explain.StatusFor(err)
		zap.S().Warnw("stream explanation failed", "sessionId", sessionID, "err", err)
		events.send(StreamResponse{Event: "error", SessionID: sessionID, Error: message})
		return
	}

	events.send(StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		MessageID: result.Reply.ID,
		Content:   result.Reply.Content,
	})
	events.send(StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
	zap.S().Infow("stream completed", "sessionId", sessionID, "length", len(result.Reply.Content))
}
