package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrContentFiltered is returned when the response was withheld by the content
// filter or the model refused.
var ErrContentFiltered = errors.New("response blocked by content filter")

type Client struct {
	client openai.Client
	model  string
}

// NewClient builds a chat completions client. SDK-level retries are disabled;
// callers own the retry policy.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{
		client: openai.NewClient(all...),
		model:  model,
	}
}

func (c *Client) Model() string { return c.model }

// Prompt sends a system and a user message and returns the reply text.
func (c *Client) Prompt(ctx context.Context, system, user string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		return "", ErrContentFiltered
	}
	return choice.Message.Content, nil
}
