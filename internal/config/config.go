package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	APIToken        string
	Provider        string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	Concurrency     int
	MaxAttempts     int
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	PromptFile      string
	TranscriptDir   string // root for transcript_path in bus events; empty rejects paths
	CacheTTL        time.Duration
	SlackBotToken   string
	SlackChannel    string
	Host            string
	Guest           string
}

func Load() Config {
	return Config{
		Port:            envInt("DOXA_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		APIToken:        envStr("DOXA_API_TOKEN", ""),
		Provider:        envStr("DOXA_PROVIDER", ProviderAnthropic),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("DOXA_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIModel:     envStr("DOXA_OPENAI_MODEL", "gpt-4o"),
		Concurrency:     envInt("DOXA_CONCURRENCY", 100),
		MaxAttempts:     envInt("DOXA_MAX_ATTEMPTS", 5),
		MinBackoff:      envDuration("DOXA_MIN_BACKOFF", 4*time.Second),
		MaxBackoff:      envDuration("DOXA_MAX_BACKOFF", 60*time.Second),
		PromptFile:      envStr("DOXA_PROMPT_FILE", ""),
		TranscriptDir:   envStr("DOXA_TRANSCRIPT_DIR", ""),
		CacheTTL:        envDuration("DOXA_CACHE_TTL", 24*time.Hour),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_CHANNEL", ""),
		Host:            envStr("DOXA_HOST", ""),
		Guest:           envStr("DOXA_GUEST", ""),
	}
}

// Validate checks the settings every command needs to talk to a model.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %s", c.Provider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %s", c.Provider)
		}
	default:
		return fmt.Errorf("unknown DOXA_PROVIDER %q", c.Provider)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("DOXA_CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.MinBackoff > c.MaxBackoff {
		return fmt.Errorf("DOXA_MIN_BACKOFF (%s) exceeds DOXA_MAX_BACKOFF (%s)", c.MinBackoff, c.MaxBackoff)
	}
	return nil
}

// Model returns the model name for the configured provider.
func (c Config) Model() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIModel
	}
	return c.AnthropicModel
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
