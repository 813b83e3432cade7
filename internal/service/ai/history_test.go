package ai

import (
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/tokens"
)

func transcriptOf(n int) []chat.Message {
	messages := make([]chat.Message, n)
	for i := range messages {
		messages[i] = chat.Message{Content: fmt.Sprintf("turn %d", i), IsUser: i%2 == 0}
	}
	return messages
}

func TestHistoryLimitKeepsImageAnchor(t *testing.T) {
	h := historyBuilder{limit: 4, tok: tokens.Approx{}}
	history := h.build(chat.Session{ImageURI: testImage}, transcriptOf(9), 0)

	require.Len(t, history, 5)
	assert.Equal(t, testImage, imageURL(history[0]))
	assert.Equal(t, "turn 0", history[0].MultiContent[0].Text)
	assert.Equal(t, "turn 5", history[1].Content)
	assert.Equal(t, "turn 8", history[4].Content)
}

func TestHistoryWithoutImageHasNoAnchor(t *testing.T) {
	h := historyBuilder{limit: 4, tok: tokens.Approx{}}
	history := h.build(chat.Session{}, transcriptOf(9), 0)

	require.Len(t, history, 4)
	assert.Equal(t, "turn 5", history[0].Content)
	assert.Equal(t, schema.Assistant, history[0].Role)
}

func TestHistoryTokenBudgetTrimsOldest(t *testing.T) {
	// every turn costs two tokens, the anchor costs two plus the image
	h := historyBuilder{limit: 10, budget: imageTokenCost + 2 + 4 + 10, tok: tokens.Approx{}}
	history := h.build(chat.Session{ImageURI: testImage}, transcriptOf(6), 10)

	require.Len(t, history, 3)
	assert.Equal(t, testImage, imageURL(history[0]))
	assert.Equal(t, "turn 4", history[1].Content)
	assert.Equal(t, "turn 5", history[2].Content)
}

func TestHistoryBudgetNeverDropsAnchor(t *testing.T) {
	h := historyBuilder{limit: 10, budget: 1, tok: tokens.Approx{}}
	history := h.build(chat.Session{ImageURI: testImage}, transcriptOf(3), 100)

	require.Len(t, history, 1)
	assert.Equal(t, testImage, imageURL(history[0]))
}

func TestHistoryEmpty(t *testing.T) {
	h := historyBuilder{limit: 10, tok: tokens.Approx{}}
	assert.Nil(t, h.build(chat.Session{ImageURI: testImage}, nil, 0))
}
