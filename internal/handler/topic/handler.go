package topic

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/pkg/utils"
)

// Handler topic服务的HTTP处理器
type Handler struct {
	topics topic.Store
}

// New 创建topic处理器
func New(topics topic.Store) *Handler {
	return &Handler{
		topics: topics,
	}
}

// RegisterRoutes 注册topic相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/topics", h.handleListTopics)
	r.Get("/topics/{topicID}", h.handleGetTopic)
}

// handleListTopics 列出所有可解释的图表
func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, r, http.StatusOK, h.topics.List())
}

func (h *Handler) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := h.topics.FindByID(chi.URLParam(r, "topicID"))
	if !ok {
		utils.RespondError(w, r, http.StatusNotFound, "topic not found")
		return
	}
	utils.RespondJSON(w, r, http.StatusOK, t)
}
