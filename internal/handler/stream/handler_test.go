package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
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

type chunkGenerator struct {
	reply     string
	streamErr error
}

func (g *chunkGenerator) StreamingEnabled() bool { return true }

func (g *chunkGenerator) GenerateExplanation(context.Context, ai.Request) (*schema.Message, error) {
	return schema.AssistantMessage(g.reply, nil), nil
}

func (g *chunkGenerator) StreamExplanation(context.Context, ai.Request) (*schema.StreamReader[*schema.Message], error) {
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	var chunks []*schema.Message
	for _, w := range strings.SplitAfter(g.reply, " ") {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func setup(t *testing.T, gen *chunkGenerator) (http.Handler, string) {
	t.Helper()
	chats := chatService.NewService(chatService.NewMemoryStore(0))
	svc := explainer.NewService(chats, gen, topic.NewMemoryStore(topic.Seed()), capture.NewParser(0))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	started, err := svc.Start(context.Background(), explainer.Capture{
		TopicID:  topic.Fees,
		ImageURI: capture.EncodeDataURI("image/png", buf.Bytes()),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r, started.Session.ID
}

// events extracts the JSON payloads of every data line.
func events(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var out []StreamResponse
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var resp StreamResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &resp))
		out = append(out, resp)
	}
	return out
}

func get(h http.Handler, sessionID, message string) *httptest.ResponseRecorder {
	target := "/explanations/" + sessionID + "/stream?message=" + url.QueryEscape(message)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStreamDeliversDeltas(t *testing.T) {
	h, id := setup(t, &chunkGenerator{reply: "Blocks are full today."})

	rec := get(h, id, "Why so high?")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	got := events(t, rec.Body.String())
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, "start", got[0].Event)
	assert.Equal(t, "end", got[len(got)-1].Event)
	assert.True(t, got[len(got)-1].Finished)

	var streamed strings.Builder
	for _, e := range got {
		if e.Event == "delta" {
			streamed.WriteString(e.Content)
		}
	}
	assert.Equal(t, "Blocks are full today.", streamed.String())

	final := got[len(got)-2]
	assert.Equal(t, "message", final.Event)
	assert.Equal(t, "Blocks are full today.", final.Content)
	assert.NotEmpty(t, final.MessageID)
}

func TestStreamRequiresMessage(t *testing.T) {
	h, id := setup(t, &chunkGenerator{reply: "ok"})

	rec := get(h, id, "  ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamUnknownSession(t *testing.T) {
	h, _ := setup(t, &chunkGenerator{reply: "ok"})

	rec := get(h, "missing", "Why?")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamFailureSendsStaticMessage(t *testing.T) {
	gen := &chunkGenerator{reply: "ok"}
	h, id := setup(t, gen)
	gen.streamErr = errors.New("connection reset by provider")

	rec := get(h, id, "Why?")
	require.Equal(t, http.StatusOK, rec.Code)

	got := events(t, rec.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, "error", got[1].Event)
	assert.Equal(t, explainer.ErrorMessage, got[1].Error)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}
