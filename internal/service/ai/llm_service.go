package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sourcegraph/conc"

	"github.com/zhouzirui/mempool-lens/backend/internal/config"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/search"
	"github.com/zhouzirui/mempool-lens/backend/internal/tokens"
)

// DefaultQuestion opens a conversation when the user did not ask anything.
const DefaultQuestion = "Explain this chart."

var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrEmptyReply    = errors.New("model returned an empty reply")
)

// Searcher looks up web results for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Service encapsulates the explanation chain and its optional context providers.
type Service struct {
	topics    topic.Store
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	prompts   *TopicPromptManager
	retriever retriever.Retriever
	searcher  Searcher
	tok       tokens.Tokenizer
}

// Option customises a Service.
type Option func(*Service)

// WithRetriever enables reference document lookups.
func WithRetriever(r retriever.Retriever) Option {
	return func(s *Service) { s.retriever = r }
}

// WithSearcher enables web search lookups.
func WithSearcher(searcher Searcher) Option {
	return func(s *Service) { s.searcher = searcher }
}

// WithTokenizer overrides the tokenizer used for the history budget.
func WithTokenizer(tok tokens.Tokenizer) Option {
	return func(s *Service) { s.tok = tok }
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, topics topic.Store, cfg config.AIConfig, opts ...Option) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.MessagesPlaceholder("turn", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	s := &Service{
		topics:  topics,
		cfg:     cfg,
		chain:   runnable,
		prompts: NewTopicPromptManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tok == nil {
		s.tok = tokens.New(cfg.Model)
	}
	return s, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Request is one explanation turn.
type Request struct {
	Session chat.Session
	// Transcript holds the turns stored before this one.
	Transcript []chat.Message
	Question   string
	// AskedAt stamps the stored user turn.
	AskedAt time.Time
}

// GenerateExplanation runs the chain and returns the complete reply.
func (s *Service) GenerateExplanation(ctx context.Context, req Request) (*schema.Message, error) {
	input, err := s.buildChainInput(ctx, req)
	if err != nil {
		return nil, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if strings.TrimSpace(response.Content) == "" {
		return nil, ErrEmptyReply
	}

	logger().Infow("generated explanation", "sessionId", req.Session.ID, "topic", req.Session.TopicID, "length", len(response.Content))
	return response, nil
}

// StreamExplanation streams reply chunks via the configured chain.
func (s *Service) StreamExplanation(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input, err := s.buildChainInput(ctx, req)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(ctx context.Context, req Request) (map[string]any, error) {
	t, ok := s.topics.FindByID(req.Session.TopicID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, req.Session.TopicID)
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = DefaultQuestion
	}
	firstTurn := len(req.Transcript) == 0

	docs, results := s.gatherContext(ctx, t, req.Session, question, firstTurn)
	system := s.prompts.BuildSystemPrompt(PromptInput{
		Topic:   t,
		Data:    req.Session.Data,
		Context: docs,
		Results: results,
	})

	var turn *schema.Message
	reserved := s.tok.Count(system) + s.tok.Count(question)
	if firstTurn && req.Session.HasImage() {
		turn = imageMessage(question, req.Session.ImageURI)
		reserved += imageTokenCost
	} else {
		turn = schema.UserMessage(question)
	}

	builder := historyBuilder{limit: s.cfg.HistoryLimit, budget: s.cfg.HistoryTokenLimit, tok: s.tok}
	return map[string]any{
		"system":  system,
		"history": builder.build(req.Session, req.Transcript, reserved),
		"turn":    []*schema.Message{turn},
	}, nil
}

// gatherContext queries the optional providers concurrently. Failures degrade to no context.
func (s *Service) gatherContext(ctx context.Context, t topic.Topic, session chat.Session, question string, firstTurn bool) ([]*schema.Document, []search.Result) {
	query := question
	if firstTurn && question == DefaultQuestion {
		query = t.Subject
	}

	var (
		docs    []*schema.Document
		results []search.Result
		wg      conc.WaitGroup
	)

	if s.retriever != nil {
		wg.Go(func() {
			retrievalQuery := query
			if firstTurn && session.Data != "" {
				retrievalQuery = query + "\n" + session.Data
			}
			found, err := s.retriever.Retrieve(ctx, retrievalQuery)
			if err != nil {
				logger().Warnw("context retrieval failed", "sessionId", session.ID, "err", err)
				return
			}
			docs = found
		})
	}
	if s.searcher != nil {
		wg.Go(func() {
			found, err := s.searcher.Search(ctx, "bitcoin "+query)
			if err != nil {
				logger().Warnw("web search failed", "sessionId", session.ID, "err", err)
				return
			}
			results = found
		})
	}

	if r := wg.WaitAndRecover(); r != nil {
		logger().Errorw("context provider panicked", "sessionId", session.ID, "panic", r.Value)
		return nil, nil
	}
	return docs, results
}
