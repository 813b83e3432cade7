package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	app := newApp()
	app.Before = func(c *cli.Context) error {
		if err := setupLogger(c.String("env")); err != nil {
			return err
		}
		if envErr != nil {
			zap.S().Debugw("no .env file loaded, continuing with system environment variables", "err", envErr)
		}
		return nil
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		zap.S().Errorw("command failed", "err", err)
		_ = zap.L().Sync()
		os.Exit(1)
	}
	_ = zap.L().Sync()
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "optional YAML config file; environment variables take precedence",
		EnvVars: []string{"CONFIG_FILE"},
	}

	return &cli.App{
		Name:  "mempool-lens",
		Usage: "chart explanation backend for the block explorer",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{
				Name:    "env",
				Usage:   "development or production logging",
				EnvVars: []string{"APP_ENV"},
				Value:   "development",
			},
		},
		Action: serveCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serveCommand,
			},
			{
				Name:   "bot",
				Usage:  "run the Telegram bot",
				Action: botCommand,
			},
			{
				Name:   "index",
				Usage:  "build the reference document index and warm the embedding cache",
				Action: indexCommand,
			},
			{
				Name:  "explain",
				Usage: "explain a chart screenshot from the command line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "image", Usage: "PNG, JPEG or WebP screenshot", Required: true},
					&cli.StringFlag{Name: "data", Usage: "JSON file with the structured chart data"},
					&cli.StringFlag{Name: "question", Usage: "question to ask about the chart"},
					&cli.StringFlag{Name: "topic", Usage: "topic id (fees, difficulty, mempool)"},
				},
				Action: explainCommand,
			},
		},
	}
}

func setupLogger(env string) error {
	var (
		zlogger *zap.Logger
		err     error
	)
	switch env {
	case "", "development", "dev":
		zlogger, err = zap.NewDevelopment()
	default:
		zlogger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(zlogger)
	return nil
}
