package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/doxa/internal/aggregate"
	"github.com/MikeSquared-Agency/doxa/internal/anthropic"
	"github.com/MikeSquared-Agency/doxa/internal/openai"
	"github.com/MikeSquared-Agency/doxa/internal/runner"
)

const defaultMaxTokens = 8192

// LLM is a chat model that answers a single prompt.
type LLM interface {
	Prompt(ctx context.Context, system, user string, maxTokens int) (string, error)
}

type Extractor struct {
	llm       LLM
	prompt    Prompt
	maxTokens int
	logger    *slog.Logger
}

func New(llm LLM, prompt Prompt, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, prompt: prompt, maxTokens: defaultMaxTokens, logger: logger}
}

// Transform extracts beliefs from one chunk and returns them as a JSON array.
// Unparseable or wrongly shaped model output is reported as transient, a provider refusal or a
// rejected request as permanent; other failures are returned unclassified.
func (e *Extractor) Transform(ctx context.Context, text string) (string, error) {
	raw, err := e.llm.Prompt(ctx, e.prompt.System, e.prompt.Render(text), e.maxTokens)
	if err != nil {
		if isRejection(err) {
			return "", runner.Permanent(fmt.Errorf("llm extraction: %w", err))
		}
		return "", fmt.Errorf("llm extraction: %w", err)
	}

	beliefs, err := parseBeliefs(raw)
	if err != nil {
		e.logger.Warn("failed to parse extraction response",
			"error", err,
			"raw_len", len(raw),
		)
		return "", runner.Transient(fmt.Errorf("parse extraction: %w", err))
	}

	out, err := json.Marshal(beliefs)
	if err != nil {
		return "", fmt.Errorf("marshal beliefs: %w", err)
	}

	// Well-formed JSON in the wrong shape is retried like unparseable output,
	// and never leaves here as a successful payload.
	if _, err := aggregate.Decode(string(out)); err != nil {
		e.logger.Warn("extraction response does not match belief schema",
			"error", err,
			"beliefs", len(beliefs),
		)
		return "", runner.Transient(fmt.Errorf("validate extraction: %w", err))
	}

	e.logger.Debug("chunk extracted", "text_len", len(text), "beliefs", len(beliefs))
	return string(out), nil
}

func isRejection(err error) bool {
	if errors.Is(err, anthropic.ErrRefused) || errors.Is(err, openai.ErrContentFiltered) {
		return true
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return false
		}
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// parseBeliefs accepts {"beliefs": [...]} or a bare array. Records are kept
// as the model wrote them; Transform validates their shape.
func parseBeliefs(raw string) ([]json.RawMessage, error) {
	content := cleanJSONResponse(raw)
	if content == "" {
		return nil, errors.New("empty response")
	}

	if content[0] == '[' {
		var beliefs []json.RawMessage
		if err := json.Unmarshal([]byte(content), &beliefs); err != nil {
			return nil, err
		}
		return beliefs, nil
	}

	var resp struct {
		Beliefs *[]json.RawMessage `json:"beliefs"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, err
	}
	if resp.Beliefs == nil {
		return nil, errors.New(`response has no "beliefs" key`)
	}
	return *resp.Beliefs, nil
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some model responses include extra prose around JSON.
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return content
	}
	closer := "}"
	if content[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(content, closer); end > start {
		content = content[start : end+1]
	}
	return content
}
