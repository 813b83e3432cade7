package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mempool-lens/backend/internal/analysis/feemarket"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/fees"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/search"
)

// PromptTemplate holds the per-topic instructions.
type PromptTemplate struct {
	SystemPrompt string
	Rules        []string
}

// TopicPromptManager builds system prompts for chart topics.
type TopicPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewTopicPromptManager creates a manager with the built-in templates.
func NewTopicPromptManager() *TopicPromptManager {
	manager := &TopicPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template for a topic.
func (pm *TopicPromptManager) GetPromptTemplate(topicID string) (*PromptTemplate, error) {
	template, exists := pm.templates[topicID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for topic: %s", topicID)
	}
	return template, nil
}

// PromptInput is everything the system prompt is assembled from.
type PromptInput struct {
	Topic   topic.Topic
	Data    string
	Context []*schema.Document
	Results []search.Result
}

// BuildSystemPrompt assembles instructions, structured data and optional context.
func (pm *TopicPromptManager) BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString(pm.basePrompt(in.Topic))

	if data := strings.TrimSpace(in.Data); data != "" {
		b.WriteString("\n\nStructured data shown in the chart:\n```json\n")
		b.WriteString(data)
		b.WriteString("\n```")
		if in.Topic.ID == topic.Fees {
			if assessment := describeFeeMarket(data); assessment != "" {
				b.WriteString("\n")
				b.WriteString(assessment)
			}
		}
	}

	if len(in.Context) > 0 {
		b.WriteString("\n\nReference material (quote it only when relevant):")
		for i, doc := range in.Context {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, strings.TrimSpace(doc.Content))
		}
	}

	if len(in.Results) > 0 {
		b.WriteString("\n\nRecent web results:")
		for _, r := range in.Results {
			fmt.Fprintf(&b, "\n- %s (%s)", r.Title, r.URL)
			if r.Snippet != "" {
				b.WriteString(": ")
				b.WriteString(r.Snippet)
			}
		}
	}

	return b.String()
}

func (pm *TopicPromptManager) basePrompt(t topic.Topic) string {
	subject := t.Subject
	if subject == "" {
		subject = "Bitcoin network data"
	}
	intro := fmt.Sprintf("You are an AI assistant explaining %s. Analyze the image provided and give a concise explanation for a general audience.", subject)

	template, err := pm.GetPromptTemplate(t.ID)
	if err != nil {
		if t.PromptHint == "" {
			return intro
		}
		return intro + "\n" + t.PromptHint
	}

	var b strings.Builder
	b.WriteString(intro)
	if template.SystemPrompt != "" {
		b.WriteString("\n")
		b.WriteString(template.SystemPrompt)
	}
	if t.PromptHint != "" {
		b.WriteString("\n")
		b.WriteString(t.PromptHint)
	}
	if len(template.Rules) > 0 {
		b.WriteString("\n\nRules:\n- ")
		b.WriteString(strings.Join(template.Rules, "\n- "))
	}
	return b.String()
}

// describeFeeMarket adds a heuristic label when data decodes as recommended fees.
func describeFeeMarket(data string) string {
	var f fees.RecommendedFees
	if err := json.Unmarshal([]byte(data), &f); err != nil || f.IsZero() {
		return ""
	}
	decision := feemarket.Analyze(f)
	if decision.Level == feemarket.Unknown {
		return ""
	}
	return fmt.Sprintf("Market assessment: %s, %.0f sat/vB between the fastest and economy tiers.", decision.Level, decision.Spread)
}

func (pm *TopicPromptManager) loadDefaultTemplates() {
	common := []string{
		"Keep answers short, at most a few sentences, unless the user asks for detail",
		"Use sat/vB for fee rates and avoid jargon without a one-line explanation",
		"If the image and the structured data disagree, trust the structured data and say so",
		"Never give investment advice",
	}

	pm.templates[topic.Fees] = &PromptTemplate{
		SystemPrompt: "The chart shows the explorer's recommended fee tiers: no priority, low, medium and high priority.",
		Rules:        common,
	}
	pm.templates[topic.Difficulty] = &PromptTemplate{
		SystemPrompt: "The chart shows progress through the current difficulty epoch and the expected adjustment.",
		Rules:        common,
	}
	pm.templates[topic.Mempool] = &PromptTemplate{
		SystemPrompt: "The chart shows projected blocks built from unconfirmed transactions, ordered by fee rate.",
		Rules:        common,
	}
}
