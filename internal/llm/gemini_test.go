package llm

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
)

// largeCapture is a valid PNG header followed by padding, bigger than the default limit.
func largeCapture(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	buf.Write(make([]byte, capture.DefaultMaxBytes+1024))
	return capture.EncodeDataURI("image/png", buf.Bytes())
}

func captureTurn(uri string) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "Explain this chart."},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: uri}},
		},
	}
}

func TestGeminiContentHonoursConfiguredImageLimit(t *testing.T) {
	uri := largeCapture(t)

	m := &GeminiChatModel{images: capture.NewParser(8 << 20)}
	content, err := m.toGeminiContent(captureTurn(uri))
	require.NoError(t, err)
	assert.Equal(t, "user", content.Role)
	require.Len(t, content.Parts, 2)
	assert.Equal(t, genai.Text("Explain this chart."), content.Parts[0])
	blob, ok := content.Parts[1].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
	assert.Greater(t, len(blob.Data), capture.DefaultMaxBytes)

	defaults := &GeminiChatModel{images: capture.NewParser(0)}
	_, err = defaults.toGeminiContent(captureTurn(uri))
	assert.ErrorIs(t, err, capture.ErrImageTooLarge)
}
