package explain

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatService "github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
	"github.com/zhouzirui/mempool-lens/backend/pkg/utils"
)

// Handler 图表解释服务的HTTP处理器
type Handler struct {
	svc     *explainer.Service
	maxBody int64
}

// New 创建解释处理器，maxBody 限制请求体大小
func New(svc *explainer.Service, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Handler{svc: svc, maxBody: maxBody}
}

// RegisterRoutes 注册解释相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/explanations", h.handleStart)
	r.Get("/explanations/{sessionID}", h.handleTranscript)
	r.Post("/explanations/{sessionID}/messages", h.handleAsk)
	r.Delete("/explanations/{sessionID}", h.handleClose)
}

type startRequest struct {
	TopicID  string          `json:"topicId"`
	Image    string          `json:"image"`
	Data     json.RawMessage `json:"data,omitempty"`
	Question string          `json:"question,omitempty"`
}

// handleStart 截图到达后开启会话并生成首条解释
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload startRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	data, err := normalizeData(payload.Data)
	if err != nil {
		utils.RespondError(w, r, http.StatusBadRequest, "data must be a JSON value")
		return
	}

	result, err := h.svc.Start(r.Context(), explainer.Capture{
		TopicID:  payload.TopicID,
		ImageURI: payload.Image,
		Data:     data,
		Question: payload.Question,
	})
	if err != nil {
		RespondFailure(w, r, err)
		return
	}

	utils.RespondJSON(w, r, http.StatusCreated, result)
}

// handleAsk 继续会话
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Question string `json:"question"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Ask(r.Context(), chi.URLParam(r, "sessionID"), payload.Question)
	if err != nil {
		RespondFailure(w, r, err)
		return
	}

	utils.RespondJSON(w, r, http.StatusOK, result)
}

// handleTranscript 返回会话消息列表
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	session, messages, err := h.svc.Transcript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		RespondFailure(w, r, err)
		return
	}

	utils.RespondJSON(w, r, http.StatusOK, utils.M{
		"session":  session,
		"messages": messages,
	})
}

// handleClose 关闭会话并清空状态
func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		RespondFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps a service error to the HTTP status and the text shown to users.
func StatusFor(err error) (int, string) {
	switch {
	case explainer.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, chatService.ErrSessionBusy):
		return http.StatusConflict, "an explanation is already in progress for this session"
	default:
		return http.StatusBadGateway, explainer.ErrorMessage
	}
}

// RespondFailure writes the mapped error; unexpected causes are logged, never returned.
func RespondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, message := StatusFor(err)
	if status == http.StatusBadGateway {
		zap.S().Errorw("explanation request failed", "path", r.URL.Path, "err", err)
	}
	utils.RespondError(w, r, status, message)
}

// normalizeData accepts structured data as a JSON string or any JSON value.
func normalizeData(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
