package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
)

// GeminiConfig configures the Gemini chat model.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	// MaxImageBytes bounds inlined captures; <= 0 uses the capture default.
	MaxImageBytes int
}

// GeminiChatModel adapts generative-ai-go to the eino chat model interface.
type GeminiChatModel struct {
	client *genai.Client
	cfg    GeminiConfig
	images capture.Parser
}

var _ model.BaseChatModel = (*GeminiChatModel)(nil)

// NewGeminiChatModel opens a Gemini client.
func NewGeminiChatModel(ctx context.Context, cfg GeminiConfig) (*GeminiChatModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiChatModel{client: client, cfg: cfg, images: capture.NewParser(cfg.MaxImageBytes)}, nil
}

// Close releases the underlying client.
func (m *GeminiChatModel) Close() error {
	return m.client.Close()
}

// Generate sends the last user turn with the rest as chat history.
func (m *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	session, parts, err := m.prepare(input, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to send gemini message: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream forwards Gemini response chunks as assistant messages.
func (m *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	session, parts, err := m.prepare(input, opts...)
	if err != nil {
		return nil, err
	}

	iter := session.SendMessageStream(ctx, parts...)
	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				sw.Send(nil, fmt.Errorf("failed to receive gemini chunk: %w", err))
				return
			}
			if closed := sw.Send(schema.AssistantMessage(responseText(resp), nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *GeminiChatModel) prepare(input []*schema.Message, opts ...model.Option) (*genai.ChatSession, []genai.Part, error) {
	temperature := m.cfg.Temperature
	maxTokens := m.cfg.MaxTokens
	modelName := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Model:       &modelName,
	}, opts...)

	gm := m.client.GenerativeModel(*options.Model)
	if options.Temperature != nil {
		gm.SetTemperature(*options.Temperature)
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(*options.MaxTokens))
	}

	var system []string
	var turns []*genai.Content
	for _, msg := range input {
		if msg.Role == schema.System {
			system = append(system, msg.Content)
			continue
		}
		content, err := m.toGeminiContent(msg)
		if err != nil {
			return nil, nil, err
		}
		turns = append(turns, content)
	}
	if len(turns) == 0 {
		return nil, nil, errors.New("gemini request has no user turn")
	}
	if len(system) > 0 {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	session := gm.StartChat()
	last := turns[len(turns)-1]
	session.History = turns[:len(turns)-1]
	return session, last.Parts, nil
}

func (m *GeminiChatModel) toGeminiContent(msg *schema.Message) (*genai.Content, error) {
	role := "user"
	if msg.Role == schema.Assistant {
		role = "model"
	}

	content := &genai.Content{Role: role}
	if msg.Content != "" {
		content.Parts = append(content.Parts, genai.Text(msg.Content))
	}
	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			content.Parts = append(content.Parts, genai.Text(part.Text))
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			img, err := m.images.Parse(part.ImageURL.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to inline image for gemini: %w", err)
			}
			content.Parts = append(content.Parts, genai.ImageData(img.Format(), img.Bytes))
		}
	}
	return content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return b.String()
}
