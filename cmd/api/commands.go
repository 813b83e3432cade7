package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/zhouzirui/mempool-lens/backend/internal/bot"
	"github.com/zhouzirui/mempool-lens/backend/internal/config"
	"github.com/zhouzirui/mempool-lens/backend/internal/database"
	"github.com/zhouzirui/mempool-lens/backend/internal/handler"
	"github.com/zhouzirui/mempool-lens/backend/internal/middleware"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/capture"
	"github.com/zhouzirui/mempool-lens/backend/internal/service/explainer"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	comps, err := build(c.Context, cfg, false)
	if err != nil {
		return err
	}
	defer comps.Close()

	limit, err := middleware.RateLimit(cfg.RateLimit.Rate, comps.redis)
	if err != nil {
		return err
	}

	deps := handler.Deps{
		Topics:         comps.topics,
		Explainer:      comps.explainer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   int64(cfg.Server.MaxImageBytes) * 2,
		RateLimit:      limit,
	}
	if comps.watcher != nil {
		deps.Fees = comps.watcher
	}

	return startServer(c.Context, cfg.Server, handler.NewRouter(deps))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zap.S().Infow("mempool lens backend listening", "addr", addr, "env", serverCfg.Env)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func botCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Telegram.Enabled() {
		return errors.New("TELEGRAM_APITOKEN is not set")
	}
	comps, err := build(c.Context, cfg, true)
	if err != nil {
		return err
	}
	defer comps.Close()

	botAPI, err := api.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create new bot: %w", err)
	}
	zap.S().Infow("authorized on telegram", "account", botAPI.Self.UserName)

	opts := []bot.Option{bot.WithAllowedIDs(cfg.Telegram.AllowedIDs)}
	if comps.watcher != nil {
		opts = append(opts, bot.WithFees(comps.watcher))
	}
	b := bot.New(botAPI, comps.explainer, cfg.AI.DefaultTopic, opts...)
	if err := b.RegisterCommands(); err != nil {
		zap.S().Warnw("failed to register bot commands", "err", err)
	}
	return bot.Run(c.Context, botAPI, b)
}

func indexCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Knowledge.Enabled() {
		return errors.New("KNOWLEDGE_DOCUMENT_PATH is not set")
	}

	comps := &components{cfg: cfg}
	defer comps.Close()
	if cfg.Redis.Enabled() {
		rc, err := database.NewRedisClient(c.Context, cfg.Redis.URL)
		if err != nil {
			return err
		}
		comps.redis = rc
		comps.closers = append(comps.closers, rc)
	}

	if _, err := buildKnowledge(c.Context, comps); err != nil {
		return err
	}
	if comps.redis == nil {
		zap.S().Warn("REDIS_URL is not set, embeddings were computed but not cached")
	}
	return nil
}

func explainCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// one-shot runs keep their state in memory and skip the live feed
	cfg.Redis.URL = ""
	cfg.Fees.Enabled = false

	comps, err := build(c.Context, cfg, true)
	if err != nil {
		return err
	}
	defer comps.Close()

	img, err := capture.EncodeFile(c.String("image"))
	if err != nil {
		return err
	}

	var data string
	if path := c.String("data"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read data file %s: %w", path, err)
		}
		data = strings.TrimSpace(string(raw))
	}

	topicID := c.String("topic")
	if topicID == "" {
		topicID = cfg.AI.DefaultTopic
	}

	result, err := comps.explainer.Start(c.Context, explainer.Capture{
		TopicID:  topicID,
		ImageURI: img.DataURI(),
		Data:     data,
		Question: c.String("question"),
	})
	if err != nil {
		zap.S().Errorw("explanation failed", "err", err)
		fmt.Fprintln(c.App.ErrWriter, explainer.ErrorMessage)
		return cli.Exit("", 1)
	}
	defer func() {
		_ = comps.explainer.Close(context.WithoutCancel(c.Context), result.Session.ID)
	}()

	fmt.Fprintln(c.App.Writer, result.Reply.Content)
	return nil
}
