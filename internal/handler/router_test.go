package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mempool-lens/backend/internal/middleware"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/ai"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
)

type echoGenerator struct{}

func (echoGenerator) StreamingEnabled() bool { return false }

func (echoGenerator) GenerateExplanation(_ context.Context, req ai.Request) (*schema.Message, error) {
	return schema.AssistantMessage("about "+req.Question, nil), nil
}

func (echoGenerator) StreamExplanation(context.Context, ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func newDeps(t *testing.T) Deps {
	t.Helper()
	topics := topic.NewMemoryStore(topic.Seed())
	chats := chat.NewService(chat.NewMemoryStore(0))
	return Deps{
		Topics:         topics,
		Explainer:      explainer.NewService(chats, echoGenerator{}, topics, capture.NewParser(0)),
		AllowedOrigins: []string{"*"},
	}
}

func TestRouterHealthAndTopics(t *testing.T) {
	r := NewRouter(newDeps(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ai":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/topics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fees", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterWithoutModel(t *testing.T) {
	deps := newDeps(t)
	deps.Explainer = nil
	r := NewRouter(deps)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/explanations/abc", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), explainer.ErrorMessage)
}

func TestRouterRateLimitsExplanations(t *testing.T) {
	limit, err := middleware.RateLimit("1-M", nil)
	require.NoError(t, err)
	deps := newDeps(t)
	deps.RateLimit = limit
	r := NewRouter(deps)

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNotFound, get("/api/explanations/missing"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/explanations/missing"))
	assert.Equal(t, http.StatusOK, get("/api/topics"))
}
