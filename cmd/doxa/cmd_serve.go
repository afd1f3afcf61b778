package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/doxa/internal/api"
	"github.com/MikeSquared-Agency/doxa/internal/config"
	"github.com/MikeSquared-Agency/doxa/internal/hermes"
	"github.com/MikeSquared-Agency/doxa/internal/pipeline"
	"github.com/MikeSquared-Agency/doxa/internal/processor"
	"github.com/MikeSquared-Agency/doxa/internal/slack"
	"github.com/MikeSquared-Agency/doxa/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extraction service (NATS consumer and HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.LogLevel)
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.Default()
	logger.Info("doxa starting", "port", cfg.Port, "provider", cfg.Provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opts []pipeline.Option
	var runs api.RunStore
	var loader processor.RunLoader

	// Database (optional, runs are not persisted without it)
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		opts = append(opts, pipeline.WithStore(db))
		runs, loader = db, db
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, runs will not be persisted")
	}

	// LLM transform, cached when Redis is configured
	prompt, err := loadPrompt(cfg)
	if err != nil {
		return err
	}
	transform, closeCache, err := newTransform(ctx, cfg, prompt, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return err
	}
	defer hermesClient.Close()
	opts = append(opts, pipeline.WithPublisher(hermesClient))
	logger.Info("NATS connected", "url", cfg.NatsURL)

	// Slack poster (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		opts = append(opts, pipeline.WithNotifier(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)))
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		logger.Warn("slack not configured, run summaries will not be posted")
	}

	pipe := pipeline.New(newRunner(cfg, logger), transform, logger, opts...)

	var procOpts []processor.Option
	if cfg.TranscriptDir != "" {
		procOpts = append(procOpts, processor.WithTranscriptDir(cfg.TranscriptDir))
		logger.Info("transcript paths enabled", "dir", cfg.TranscriptDir)
	}
	proc := processor.New(pipe, loader, logger, procOpts...)
	if err := hermesClient.Subscribe(hermes.SubjectTranscriptStored, proc.HandleTranscriptStored); err != nil {
		return err
	}
	if err := hermesClient.Subscribe(hermes.SubjectRunRedrive, proc.HandleRedriveRequest); err != nil {
		return err
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, pipe, runs, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish("swarm.agent.doxa.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"provider":  cfg.Provider,
		"model":     cfg.Model(),
	}); err != nil {
		logger.Warn("failed to publish registration", "error", err)
	}

	logger.Info("doxa ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	if err := hermesClient.Drain(); err != nil {
		logger.Warn("NATS drain", "error", err)
	}
	cancel()
	logger.Info("doxa stopped")
	return nil
}
