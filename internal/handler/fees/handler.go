package fees

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mempool-lens/backend/internal/analysis/feemarket"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/fees"
	"github.com/zhouzirui/mempool-lens/backend/pkg/utils"
)

// Source supplies the latest fee snapshot.
type Source interface {
	Latest() (fees.RecommendedFees, time.Time, bool)
}

// Handler exposes live fees to the widget.
type Handler struct {
	source Source
}

// New creates a fees handler.
func New(source Source) *Handler {
	return &Handler{source: source}
}

// RegisterRoutes registers GET /fees.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/fees", h.handleLatest)
}

// Response is the payload of GET /fees.
type Response struct {
	Fees       fees.RecommendedFees `json:"fees"`
	ParsedData string               `json:"parsedData"`
	Analysis   feemarket.Decision   `json:"analysis"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		utils.RespondError(w, r, http.StatusServiceUnavailable, "live fees disabled")
		return
	}
	latest, updated, ok := h.source.Latest()
	if !ok {
		utils.RespondError(w, r, http.StatusServiceUnavailable, "fees not received yet")
		return
	}

	parsed, err := latest.ParsedData()
	if err != nil {
		utils.RespondError(w, r, http.StatusInternalServerError, "failed to render fees")
		return
	}

	utils.RespondJSON(w, r, http.StatusOK, Response{
		Fees:       latest,
		ParsedData: parsed,
		Analysis:   feemarket.Analyze(latest),
		UpdatedAt:  updated,
	})
}
