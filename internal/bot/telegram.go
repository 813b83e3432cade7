package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/zhouzirui/mempool-lens/backend/internal/analysis/feemarket"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/fees"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
	chatservice "github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
)

const (
	MessageCommandStart   = "Send me a screenshot of a mempool chart and I will explain it. Add a caption to ask something specific. Use /new to start over and /fees for the current fee rates."
	MessageNeedChart      = "Send a chart screenshot first."
	MessageSessionCleared = "Conversation cleared. Send a new chart screenshot."
	MessageUserNoAccess   = "You are not allowed to use this bot"
	MessageFeesUnknown    = "Live fee data is not available right now."
	MessageCommandUnknown = "I don't know that command"

	CommandStart = "start"
	CommandHelp  = "help"
	CommandNew   = "new"
	CommandFees  = "fees"

	// Telegram rate limits edits; keep well below one per second.
	editInterval = 2500 * time.Millisecond
)

// Client is the subset of the Bot API the bot relies on.
type Client interface {
	Send(c api.Chattable) (api.Message, error)
	Request(c api.Chattable) (*api.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// FeeSource supplies live fees for /fees.
type FeeSource interface {
	Latest() (fees.RecommendedFees, time.Time, bool)
}

// Bot serves the explanation widget over Telegram.
type Bot struct {
	client    Client
	explainer *explainer.Service
	fees      FeeSource
	topicID   string
	allowed   map[int64]struct{}
	http      *http.Client

	mu       sync.Mutex
	sessions map[int64]string
}

// Option customises a Bot.
type Option func(*Bot)

// WithFees enables the /fees command.
func WithFees(source FeeSource) Option {
	return func(b *Bot) { b.fees = source }
}

// WithAllowedIDs restricts the bot to the given chat ids.
func WithAllowedIDs(ids []int64) Option {
	return func(b *Bot) {
		for _, id := range ids {
			b.allowed[id] = struct{}{}
		}
	}
}

// WithHTTPClient overrides the client used to download photos.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.http = c }
}

// New creates a bot that opens sessions for topicID.
func New(client Client, svc *explainer.Service, topicID string, opts ...Option) *Bot {
	b := &Bot{
		client:    client,
		explainer: svc,
		topicID:   topicID,
		allowed:   make(map[int64]struct{}),
		http:      &http.Client{Timeout: 30 * time.Second},
		sessions:  make(map[int64]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterCommands publishes the command menu.
func (b *Bot) RegisterCommands() error {
	_, err := b.client.Request(api.NewSetMyCommands(
		api.BotCommand{Command: CommandHelp, Description: "How to use the bot"},
		api.BotCommand{Command: CommandNew, Description: "Clear the conversation"},
		api.BotCommand{Command: CommandFees, Description: "Show current fee rates"},
	))
	if err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	return nil
}

// Run consumes updates until ctx is done.
func Run(ctx context.Context, botAPI *api.BotAPI, b *Bot) error {
	u := api.NewUpdate(0)
	u.Timeout = 60
	updates := botAPI.GetUpdatesChan(u)
	defer botAPI.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.Handle(ctx, fromMessage(update.Message))
		}
	}
}

// Incoming is the part of a Telegram message the bot acts on.
type Incoming struct {
	ChatID  int64
	Command string
	Text    string
	// PhotoFileID is the largest size of an attached photo.
	PhotoFileID string
}

func fromMessage(m *api.Message) Incoming {
	in := Incoming{ChatID: m.Chat.ID, Text: strings.TrimSpace(m.Text)}
	if m.IsCommand() {
		in.Command = m.Command()
		in.Text = strings.TrimSpace(m.CommandArguments())
	}
	if len(m.Photo) > 0 {
		in.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
		in.Text = strings.TrimSpace(m.Caption)
	}
	return in
}

// Handle processes one message.
func (b *Bot) Handle(ctx context.Context, in Incoming) {
	if len(b.allowed) > 0 {
		if _, ok := b.allowed[in.ChatID]; !ok {
			b.send(in.ChatID, MessageUserNoAccess)
			return
		}
	}

	switch {
	case in.Command != "":
		b.handleCommand(ctx, in)
	case in.PhotoFileID != "":
		b.handlePhoto(ctx, in)
	case in.Text != "":
		b.handleText(ctx, in)
	}
}

func (b *Bot) handleCommand(ctx context.Context, in Incoming) {
	switch in.Command {
	case CommandStart, CommandHelp:
		b.send(in.ChatID, MessageCommandStart)
	case CommandNew:
		if id, ok := b.takeSession(in.ChatID); ok {
			if err := b.explainer.Close(ctx, id); err != nil {
				logger().Warnw("failed to close session", "chatId", in.ChatID, "sessionId", id, "err", err)
			}
		}
		b.send(in.ChatID, MessageSessionCleared)
	case CommandFees:
		b.send(in.ChatID, b.describeFees())
	default:
		b.send(in.ChatID, MessageCommandUnknown)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, in Incoming) {
	b.typing(in.ChatID)

	img, err := b.download(ctx, in.PhotoFileID)
	if err != nil {
		logger().Errorw("failed to download photo", "chatId", in.ChatID, "err", err)
		b.send(in.ChatID, explainer.ErrorMessage)
		return
	}

	if id, ok := b.takeSession(in.ChatID); ok {
		if err := b.explainer.Close(ctx, id); err != nil {
			logger().Warnw("failed to close previous session", "chatId", in.ChatID, "err", err)
		}
	}

	result, err := b.explainer.Start(ctx, explainer.Capture{
		TopicID:  b.topicID,
		ImageURI: img.DataURI(),
		Question: in.Text,
	})
	if err != nil {
		logger().Errorw("failed to start explanation", "chatId", in.ChatID, "err", err)
		b.send(in.ChatID, explainer.ErrorMessage)
		return
	}

	b.mu.Lock()
	b.sessions[in.ChatID] = result.Session.ID
	b.mu.Unlock()
	b.send(in.ChatID, result.Reply.Content)
}

func (b *Bot) handleText(ctx context.Context, in Incoming) {
	b.mu.Lock()
	sessionID, ok := b.sessions[in.ChatID]
	b.mu.Unlock()
	if !ok {
		b.send(in.ChatID, MessageNeedChart)
		return
	}

	b.typing(in.ChatID)

	var (
		result  explainer.Result
		err     error
		replyID int
	)
	partial := make(chan string, 16)

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		defer close(partial)
		var sb strings.Builder
		result, err = b.explainer.AskStream(ctx, sessionID, in.Text, func(delta string) error {
			sb.WriteString(delta)
			select {
			case partial <- sb.String():
			default:
			}
			return nil
		})
	})
	wg.Go(func() {
		replyID = b.relay(in.ChatID, partial)
	})
	wg.Wait()

	text := explainer.ErrorMessage
	switch {
	case errors.Is(err, chatservice.ErrSessionNotFound):
		// Expired or closed elsewhere; the chat needs a fresh capture.
		b.takeSession(in.ChatID)
		text = MessageNeedChart
	case err != nil:
		logger().Errorw("failed to continue explanation", "chatId", in.ChatID, "sessionId", sessionID, "err", err)
	default:
		text = result.Reply.Content
	}

	if replyID == 0 {
		b.send(in.ChatID, text)
		return
	}
	if _, sendErr := b.client.Send(api.NewEditMessageText(in.ChatID, replyID, text)); sendErr != nil {
		logger().Warnw("failed to edit reply", "chatId", in.ChatID, "err", sendErr)
	}
}

// relay posts the first partial answer and edits it at most once per editInterval.
func (b *Bot) relay(chatID int64, partial <-chan string) int {
	var (
		replyID  int
		lastEdit time.Time
	)
	for text := range partial {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if replyID == 0 {
			msg, err := b.client.Send(api.NewMessage(chatID, text))
			if err != nil {
				logger().Warnw("failed to send partial reply", "chatId", chatID, "err", err)
				continue
			}
			replyID = msg.MessageID
			lastEdit = time.Now()
			continue
		}
		if time.Since(lastEdit) < editInterval {
			continue
		}
		if _, err := b.client.Send(api.NewEditMessageText(chatID, replyID, text)); err != nil {
			logger().Warnw("failed to edit partial reply", "chatId", chatID, "err", err)
		}
		lastEdit = time.Now()
	}
	return replyID
}

func (b *Bot) download(ctx context.Context, fileID string) (capture.Image, error) {
	link, err := b.client.GetFileDirectURL(fileID)
	if err != nil {
		return capture.Image{}, fmt.Errorf("failed to resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return capture.Image{}, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return capture.Image{}, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return capture.Image{}, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, capture.DefaultMaxBytes+1))
	if err != nil {
		return capture.Image{}, fmt.Errorf("failed to read file: %w", err)
	}
	return capture.FromBytes(data)
}

func (b *Bot) describeFees() string {
	if b.fees == nil {
		return MessageFeesUnknown
	}
	latest, updated, ok := b.fees.Latest()
	if !ok {
		return MessageFeesUnknown
	}
	decision := feemarket.Analyze(latest)
	return fmt.Sprintf(
		"Fee rates (sat/vB) as of %s UTC\nFastest: %g\nHalf hour: %g\nHour: %g\nEconomy: %g\nMinimum: %g\nMarket: %s",
		updated.UTC().Format("15:04"),
		latest.FastestFee, latest.HalfHourFee, latest.HourFee, latest.EconomyFee, latest.MinimumFee,
		decision.Level,
	)
}

func (b *Bot) takeSession(chatID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.sessions[chatID]
	delete(b.sessions, chatID)
	return id, ok
}

func (b *Bot) typing(chatID int64) {
	if _, err := b.client.Request(api.NewChatAction(chatID, api.ChatTyping)); err != nil {
		logger().Warnw("failed to send chat action", "chatId", chatID, "err", err)
	}
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.client.Send(api.NewMessage(chatID, text)); err != nil {
		logger().Warnw("failed to send message", "chatId", chatID, "err", err)
	}
}

func logger() *zap.SugaredLogger {
	return zap.S()
}
