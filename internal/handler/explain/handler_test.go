package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/ai"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
	chatService "github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
)

type stubGenerator struct {
	reply string
	err   error
}

func (g *stubGenerator) StreamingEnabled() bool { return false }

func (g *stubGenerator) GenerateExplanation(context.Context, ai.Request) (*schema.Message, error) {
	if g.err != nil {
		return nil, g.err
	}
	return schema.AssistantMessage(g.reply, nil), nil
}

func (g *stubGenerator) StreamExplanation(context.Context, ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not streaming")
}

func newServer(t *testing.T, gen *stubGenerator) http.Handler {
	t.Helper()
	chats := chatService.NewService(chatService.NewMemoryStore(0))
	svc := explainer.NewService(chats, gen, topic.NewMemoryStore(topic.Seed()), capture.NewParser(0))
	r := chi.NewRouter()
	New(svc, 0).RegisterRoutes(r)
	return r
}

func pngURI(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))))
	return capture.EncodeDataURI("image/png", buf.Bytes())
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type resultBody struct {
	Session struct {
		ID      string `json:"id"`
		TopicID string `json:"topicId"`
		Data    string `json:"data"`
	} `json:"session"`
	Reply struct {
		Content string `json:"content"`
		IsUser  bool   `json:"isUser"`
	} `json:"reply"`
	Messages []json.RawMessage `json:"messages"`
	Error    string            `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) resultBody {
	t.Helper()
	var body resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestExplanationLifecycle(t *testing.T) {
	h := newServer(t, &stubGenerator{reply: "Fees are low right now."})

	rec := do(t, h, http.MethodPost, "/explanations", map[string]any{
		"topicId": topic.Fees,
		"image":   pngURI(t),
		"data":    map[string]int{"fastestFee": 3},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode(t, rec)
	require.NotEmpty(t, started.Session.ID)
	assert.Equal(t, "Fees are low right now.", started.Reply.Content)
	assert.Contains(t, started.Session.Data, `"fastestFee": 3`)
	assert.Len(t, started.Messages, 2)

	rec = do(t, h, http.MethodPost, "/explanations/"+started.Session.ID+"/messages", map[string]string{"question": "Why?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec).Messages, 4)

	rec = do(t, h, http.MethodGet, "/explanations/"+started.Session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec).Messages, 4)

	rec = do(t, h, http.MethodDelete, "/explanations/"+started.Session.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/explanations/"+started.Session.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartValidation(t *testing.T) {
	h := newServer(t, &stubGenerator{reply: "ok"})

	cases := map[string]map[string]any{
		"unknown topic": {"topicId": "weather", "image": pngURI(t)},
		"missing image": {"topicId": topic.Fees},
		"bad image":     {"topicId": topic.Fees, "image": "data:image/gif;base64,R0lGOD"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/explanations", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode(t, rec).Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/explanations", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFailureShowsStaticMessage(t *testing.T) {
	h := newServer(t, &stubGenerator{err: errors.New("upstream 500: quota exceeded")})

	rec := do(t, h, http.MethodPost, "/explanations", map[string]any{"topicId": topic.Fees, "image": pngURI(t)})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, explainer.ErrorMessage, decode(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestAskUnknownSession(t *testing.T) {
	h := newServer(t, &stubGenerator{reply: "ok"})

	rec := do(t, h, http.MethodPost, "/explanations/missing/messages", map[string]string{"question": "Why?"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	status, _ := StatusFor(chatService.ErrSessionBusy)
	assert.Equal(t, http.StatusConflict, status)

	status, msg := StatusFor(explainer.ErrQuestionEmpty)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, explainer.ErrQuestionEmpty.Error(), msg)

	status, msg = StatusFor(errors.New("boom"))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, explainer.ErrorMessage, msg)
}

func TestNormalizeData(t *testing.T) {
	got, err := normalizeData(json.RawMessage(`"  {\"a\":1}  "`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, got)

	got, err = normalizeData(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", got)

	got, err = normalizeData(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, got)
}
