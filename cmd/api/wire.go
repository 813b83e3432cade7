package main

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/mempool-lens/backend/internal/config"
	"github.com/zhouzirui/mempool-lens/backend/internal/database"
	"github.com/zhouzirui/mempool-lens/backend/internal/model/topic"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/ai"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/chat"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/fees"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/knowledge"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/search"
	"github.com/zhouzirui/mempool-lens/backend/internal/tokens"
)

// components holds everything the commands share.
type components struct {
	cfg       *config.Config
	topics    topic.Store
	redis     *redis.Client
	chats     *chat.Service
	explainer *explainer.Service // nil when the chat model is not configured
	watcher   *fees.Watcher      // nil when live fees are disabled

	closers []io.Closer
}

func (c *components) Close() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			zap.S().Warnw("failed to release resource", "err", err)
		}
	}
}

// build wires the services from cfg. requireAI makes a missing chat model fatal.
func build(ctx context.Context, cfg *config.Config, requireAI bool) (*components, error) {
	c := &components{
		cfg:    cfg,
		topics: topic.NewMemoryStore(topic.Seed()),
	}

	var store chat.Store = chat.NewMemoryStore(cfg.Redis.SessionTTL)
	if cfg.Redis.Enabled() {
		rc, err := database.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		c.redis = rc
		c.closers = append(c.closers, rc)
		store = chat.NewRedisStore(rc, cfg.Redis.SessionTTL)
		zap.S().Infow("using redis session store", "ttl", cfg.Redis.SessionTTL)
	}
	c.chats = chat.NewService(store)

	if cfg.Fees.Enabled {
		c.watcher = fees.NewWatcher(cfg.Fees.WebsocketURL, cfg.Fees.ReconnectDelay)
		go c.watcher.Run(ctx)
	}

	if !cfg.AI.Enabled() {
		if requireAI {
			return nil, fmt.Errorf("AI provider %q is not configured, set AI_API_KEY and AI_MODEL", cfg.AI.Provider)
		}
		zap.S().Warnw("AI credentials missing, explanation routes disabled", "provider", cfg.AI.Provider)
		return c, nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	if closer, ok := chatModel.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	var opts []ai.Option
	if cfg.Knowledge.Enabled() {
		r, err := buildKnowledge(ctx, c)
		if err != nil {
			zap.S().Warnw("reference documents unavailable, continuing without them", "err", err)
		} else {
			opts = append(opts, ai.WithRetriever(r))
		}
	}
	if cfg.Search.Enabled {
		opts = append(opts, ai.WithSearcher(search.NewClient(cfg.Search.Endpoint, cfg.Search.MaxResults, cfg.Search.Timeout)))
		zap.S().Infow("web search enabled", "endpoint", cfg.Search.Endpoint)
	}

	aiSvc, err := ai.NewService(ctx, chatModel, c.topics, cfg.AI, opts...)
	if err != nil {
		return nil, err
	}
	zap.S().Infow("AI service initialized", "provider", cfg.AI.Provider, "model", cfg.AI.Model, "stream", aiSvc.StreamingEnabled())

	c.explainer = explainer.NewService(c.chats, aiSvc, c.topics, capture.NewParser(cfg.Server.MaxImageBytes))
	if c.watcher != nil {
		c.explainer.WithLiveData(topic.Fees, c.watcher)
	}
	return c, nil
}

// buildKnowledge embeds the reference document into a similarity store.
func buildKnowledge(ctx context.Context, c *components) (retriever.Retriever, error) {
	cfg := c.cfg
	embedder, err := cfg.Embedding.NewEmbedder(cfg.AI)
	if err != nil {
		return nil, err
	}
	if c.redis != nil {
		embedder = knowledge.NewCachedEmbedder(embedder, c.redis, cfg.Embedding.Model)
	}

	store := knowledge.NewStore(embedder, cfg.Knowledge.TopK, cfg.Knowledge.MinScore)
	splitter := knowledge.NewSplitter(tokens.New(cfg.Embedding.Model), cfg.Knowledge.ChunkTokens, cfg.Knowledge.ChunkOverlap)
	n, err := knowledge.Build(ctx, cfg.Knowledge.DocumentPath, splitter, store)
	if err != nil {
		return nil, err
	}
	zap.S().Infow("reference documents indexed", "path", cfg.Knowledge.DocumentPath, "chunks", n)
	return store, nil
}
