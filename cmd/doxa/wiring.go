package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/doxa/internal/anthropic"
	"github.com/MikeSquared-Agency/doxa/internal/cache"
	"github.com/MikeSquared-Agency/doxa/internal/config"
	"github.com/MikeSquared-Agency/doxa/internal/extractor"
	"github.com/MikeSquared-Agency/doxa/internal/openai"
	"github.com/MikeSquared-Agency/doxa/internal/runner"
)

// newLLM returns the chat client for the configured provider.
func newLLM(cfg config.Config) (extractor.LLM, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// loadPrompt reads the prompt file if one is configured and applies the
// host and guest names from the environment.
func loadPrompt(cfg config.Config) (extractor.Prompt, error) {
	prompt := extractor.DefaultPrompt()
	if cfg.PromptFile != "" {
		p, err := extractor.LoadPrompt(cfg.PromptFile)
		if err != nil {
			return extractor.Prompt{}, err
		}
		prompt = p
	}
	if cfg.Host != "" {
		prompt.Host = cfg.Host
	}
	if cfg.Guest != "" {
		prompt.Guest = cfg.Guest
	}
	return prompt, nil
}

// newTransform builds the per-chunk transformation, memoized in Redis when
// REDIS_URL is set. The returned func releases the cache connection.
func newTransform(ctx context.Context, cfg config.Config, prompt extractor.Prompt, logger *slog.Logger) (runner.TransformFunc, func(), error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, nil, err
	}
	fn := extractor.New(llm, prompt, logger).Transform
	logger.Info("llm client ready", "provider", cfg.Provider, "model", cfg.Model())

	if cfg.RedisURL == "" {
		return fn, func() {}, nil
	}

	rdb, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		// Cache is an optimisation; run uncached.
		logger.Warn("redis unavailable, running without payload cache", "error", err)
		return fn, func() {}, nil
	}
	logger.Info("payload cache ready", "ttl", cfg.CacheTTL.String())

	prefix := fmt.Sprintf("doxa:%s:%s:%s:", cfg.Provider, cfg.Model(), cache.Key("", prompt.System+prompt.Template+prompt.Host+prompt.Guest)[:12])
	cached := cache.Wrap(rdb, cfg.CacheTTL, prefix, logger, fn)
	return cached, func() { _ = rdb.Close() }, nil
}

func newRunner(cfg config.Config, logger *slog.Logger, opts ...runner.Option) *runner.Runner {
	policy := runner.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.MinBackoff = cfg.MinBackoff
	policy.MaxBackoff = cfg.MaxBackoff

	all := append([]runner.Option{
		runner.WithConcurrency(cfg.Concurrency),
		runner.WithPolicy(policy),
		runner.WithLogger(logger),
	}, opts...)
	return runner.New(all...)
}
