package ai

import (
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/tokens"
)

// imageTokenCost approximates a low detail image in the token budget.
const imageTokenCost = 85

type historyEntry struct {
	msg    chat.Message
	anchor bool
	cost   int
}

// historyBuilder keeps the last turns within a message limit and a token budget.
// The first user turn carries the capture and is never trimmed.
type historyBuilder struct {
	limit  int
	budget int
	tok    tokens.Tokenizer
}

func (h historyBuilder) build(session chat.Session, transcript []chat.Message, reserved int) []*schema.Message {
	if len(transcript) == 0 {
		return nil
	}

	anchorIdx := -1
	if session.HasImage() {
		for i, msg := range transcript {
			if msg.IsUser {
				anchorIdx = i
				break
			}
		}
	}

	start := 0
	if h.limit > 0 && len(transcript) > h.limit {
		start = len(transcript) - h.limit
	}

	entries := make([]historyEntry, 0, len(transcript)-start+1)
	if anchorIdx >= 0 && anchorIdx < start {
		entries = append(entries, h.entry(transcript[anchorIdx], true))
	}
	for i := start; i < len(transcript); i++ {
		entries = append(entries, h.entry(transcript[i], i == anchorIdx))
	}

	used := reserved
	for _, e := range entries {
		used += e.cost
	}
	for h.budget > 0 && used > h.budget {
		drop := -1
		for i, e := range entries {
			if !e.anchor {
				drop = i
				break
			}
		}
		if drop < 0 {
			break
		}
		used -= entries[drop].cost
		entries = append(entries[:drop], entries[drop+1:]...)
		logger().Debugw("history trimmed due to token limit", "sessionId", session.ID, "tokens", used)
	}

	history := make([]*schema.Message, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.anchor:
			history = append(history, imageMessage(e.msg.Content, session.ImageURI))
		case e.msg.IsUser:
			history = append(history, schema.UserMessage(e.msg.Content))
		default:
			history = append(history, schema.AssistantMessage(e.msg.Content, nil))
		}
	}
	return history
}

func (h historyBuilder) entry(msg chat.Message, anchor bool) historyEntry {
	cost := h.tok.Count(msg.Content)
	if anchor {
		cost += imageTokenCost
	}
	return historyEntry{msg: msg, anchor: anchor, cost: cost}
}

// imageMessage is a user turn with the question text and the capture attached.
func imageMessage(text, imageURI string) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: text},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    imageURI,
					Detail: schema.ImageURLDetailAuto,
				},
			},
		},
	}
}
