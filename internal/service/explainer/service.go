package explainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/ai"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
	chatservice "github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
)

// ErrorMessage is the only failure text shown to users.
const ErrorMessage = "Sorry, I couldn't generate an explanation at this time. Please try again later."

var (
	ErrUnknownTopic  = errors.New("unknown topic")
	ErrImageRequired = errors.New("image is required")
	ErrQuestionEmpty = errors.New("question is required")
)

// Generator produces explanations.
type Generator interface {
	StreamingEnabled() bool
	GenerateExplanation(ctx context.Context, req ai.Request) (*schema.Message, error)
	StreamExplanation(ctx context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error)
}

// LiveData supplies structured data for a topic when the capture carries none.
type LiveData interface {
	ParsedData() (string, bool)
}

// Capture is what the widget submits to open a conversation.
type Capture struct {
	TopicID  string
	ImageURI string
	Data     string
	Question string
}

// Result is the state after a completed turn.
type Result struct {
	Session  chat.Session   `json:"session"`
	Reply    chat.Message   `json:"reply"`
	Messages []chat.Message `json:"messages"`
}

// Service drives the explanation widget conversation.
type Service struct {
	chats     *chatservice.Service
	generator Generator
	topics    topic.Store
	parser    capture.Parser
	live      map[string]LiveData
}

// NewService wires the explainer.
func NewService(chats *chatservice.Service, generator Generator, topics topic.Store, parser capture.Parser) *Service {
	return &Service{
		chats:     chats,
		generator: generator,
		topics:    topics,
		parser:    parser,
		live:      make(map[string]LiveData),
	}
}

// WithLiveData registers a live data source for topicID.
func (s *Service) WithLiveData(topicID string, source LiveData) *Service {
	s.live[topicID] = source
	return s
}

// Start validates the capture, opens a session and generates the first explanation.
func (s *Service) Start(ctx context.Context, c Capture) (Result, error) {
	if _, ok := s.topics.FindByID(c.TopicID); !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTopic, c.TopicID)
	}
	if strings.TrimSpace(c.ImageURI) == "" {
		return Result{}, ErrImageRequired
	}
	img, err := s.parser.Parse(c.ImageURI)
	if err != nil {
		return Result{}, err
	}

	data := strings.TrimSpace(c.Data)
	if data == "" {
		if source, ok := s.live[c.TopicID]; ok {
			data, _ = source.ParsedData()
		}
	}

	session, err := s.chats.CreateSession(ctx, c.TopicID, img.DataURI(), data)
	if err != nil {
		return Result{}, err
	}
	logger().Infow("explanation session opened", "sessionId", session.ID, "topic", c.TopicID,
		"format", img.Format(), "width", img.Width, "height", img.Height, "hasData", data != "")

	question := strings.TrimSpace(c.Question)
	if question == "" {
		question = ai.DefaultQuestion
	}
	result, err := s.turn(ctx, session, question)
	if err != nil {
		// a failed opening turn leaves nothing for the widget to continue
		if closeErr := s.chats.CloseSession(context.WithoutCancel(ctx), session.ID); closeErr != nil {
			logger().Warnw("failed to drop session", "sessionId", session.ID, "err", closeErr)
		}
		return Result{}, err
	}
	return result, nil
}

// Ask continues the conversation with a follow-up question.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrQuestionEmpty
	}
	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	return s.turn(ctx, session, question)
}

func (s *Service) turn(ctx context.Context, session chat.Session, question string) (Result, error) {
	release, err := s.chats.Acquire(session.ID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	req, err := s.prepare(ctx, session, question)
	if err != nil {
		return Result{}, err
	}

	reply, err := s.generator.GenerateExplanation(ctx, req)
	if err != nil {
		logger().Errorw("explanation failed", "sessionId", session.ID, "err", err)
		return Result{}, fmt.Errorf("failed to generate explanation: %w", err)
	}

	return s.finish(ctx, req, reply.Content)
}

// AskStream continues the conversation and reports reply chunks to onDelta.
func (s *Service) AskStream(ctx context.Context, sessionID, question string, onDelta func(string) error) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrQuestionEmpty
	}
	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	if !s.generator.StreamingEnabled() {
		result, err := s.turn(ctx, session, question)
		if err != nil {
			return Result{}, err
		}
		if onDelta != nil {
			if err := onDelta(result.Reply.Content); err != nil {
				return Result{}, fmt.Errorf("failed to deliver explanation: %w", err)
			}
		}
		return result, nil
	}

	release, err := s.chats.Acquire(session.ID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	req, err := s.prepare(ctx, session, question)
	if err != nil {
		return Result{}, err
	}

	stream, err := s.generator.StreamExplanation(ctx, req)
	if err != nil {
		logger().Errorw("explanation stream failed", "sessionId", session.ID, "err", err)
		return Result{}, fmt.Errorf("failed to stream explanation: %w", err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger().Errorw("explanation stream interrupted", "sessionId", session.ID, "err", err)
			return Result{}, fmt.Errorf("failed to receive explanation chunk: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" || onDelta == nil {
			continue
		}
		if err := onDelta(chunk.Content); err != nil {
			return Result{}, fmt.Errorf("failed to deliver explanation chunk: %w", err)
		}
	}

	if len(chunks) == 0 {
		return Result{}, ai.ErrEmptyReply
	}
	reply, err := schema.ConcatMessages(chunks)
	if err != nil {
		return Result{}, fmt.Errorf("failed to merge explanation chunks: %w", err)
	}
	if strings.TrimSpace(reply.Content) == "" {
		return Result{}, ai.ErrEmptyReply
	}
	return s.finish(ctx, req, reply.Content)
}

// prepare loads prior turns. Nothing is stored until the model answered.
func (s *Service) prepare(ctx context.Context, session chat.Session, question string) (ai.Request, error) {
	transcript, err := s.chats.LoadTranscript(ctx, session.ID)
	if err != nil {
		return ai.Request{}, err
	}
	return ai.Request{Session: session, Transcript: transcript, Question: question, AskedAt: time.Now().UTC()}, nil
}

// finish stores the question and the reply as one completed turn.
func (s *Service) finish(ctx context.Context, req ai.Request, content string) (Result, error) {
	session := req.Session
	if _, err := s.chats.SaveMessage(ctx, chat.Message{
		SessionID: session.ID,
		Content:   req.Question,
		IsUser:    true,
		Timestamp: req.AskedAt,
	}); err != nil {
		return Result{}, err
	}
	reply, err := s.chats.SaveMessage(ctx, chat.Message{SessionID: session.ID, Content: strings.TrimSpace(content)})
	if err != nil {
		return Result{}, err
	}
	messages, err := s.chats.LoadTranscript(ctx, session.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Session: session, Reply: reply, Messages: messages}, nil
}

// Transcript returns the rendered message list of a session.
func (s *Service) Transcript(ctx context.Context, sessionID string) (chat.Session, []chat.Message, error) {
	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, err
	}
	messages, err := s.chats.LoadTranscript(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, err
	}
	return session, messages, nil
}

// Close clears the session and its messages.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	if err := s.chats.CloseSession(ctx, sessionID); err != nil {
		return err
	}
	logger().Infow("explanation session closed", "sessionId", sessionID)
	return nil
}

// IsValidation reports whether err stems from bad client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownTopic) ||
		errors.Is(err, ErrImageRequired) ||
		errors.Is(err, ErrQuestionEmpty) ||
		errors.Is(err, chatservice.ErrTopicRequired) ||
		errors.Is(err, chatservice.ErrEmptyMessage) ||
		errors.Is(err, capture.ErrInvalidImage) ||
		errors.Is(err, capture.ErrUnsupportedMedia) ||
		errors.Is(err, capture.ErrEmptyImage) ||
		errors.Is(err, capture.ErrImageTooLarge)
}

func logger() *zap.SugaredLogger {
	return zap.S()
}
