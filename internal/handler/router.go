package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/mempool-lens/backend/internal/handler/explain"
	feesHandler "github.com/zhouzirui/mempool-lens/backend/internal/handler/fees"
	"github.com/zhouzirui/mempool-lens/backend/internal/handler/stream"
	topicHandler "github.com/zhouzirui/mempool-lens/backend/internal/handler/topic"
	middlewarePkg "github.com/zhouzirui/mempool-lens/backend/internal/middleware"
	topicModel "github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
	"github.com/zhouzirui/mempool-lens/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built from.
type Deps struct {
	Topics         topicModel.Store
	Explainer      *explainer.Service // nil when no chat model is configured
	Fees           feesHandler.Source
	AllowedOrigins []string
	MaxBodyBytes   int64
	// RateLimit wraps the explanation routes; nil disables limiting.
	RateLimit func(http.Handler) http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, r, http.StatusOK, utils.M{
			"status": "ok",
			"ai":     deps.Explainer != nil,
		})
	})

	r.Route("/api", func(api chi.Router) {
		topicHandler.New(deps.Topics).RegisterRoutes(api)
		feesHandler.New(deps.Fees).RegisterRoutes(api)

		api.Group(func(g chi.Router) {
			if deps.RateLimit != nil {
				g.Use(deps.RateLimit)
			}

			if deps.Explainer == nil {
				unavailable := func(w http.ResponseWriter, r *http.Request) {
					utils.RespondError(w, r, http.StatusServiceUnavailable, explainer.ErrorMessage)
				}
				g.HandleFunc("/explanations", unavailable)
				g.HandleFunc("/explanations/*", unavailable)
				return
			}

			explain.New(deps.Explainer, deps.MaxBodyBytes).RegisterRoutes(g)
			stream.New(deps.Explainer).RegisterRoutes(g)
		})
	})

	return r
}
