package openai

import (
	"context"

	"github.com/samber/oops"
	openai "github.com/sashabaranov/go-openai"

	"tg-assistant/internal/shared/config"
)

// Client is the completion-API collaborator backed by OpenAI chat
// completions.
type Client struct {
	client *openai.Client
	model  string
}

// New creates a completion client from the configured key and model.
func New(cfg *config.Config) (*Client, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, oops.Errorf("openai_api_key is not configured")
	}

	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client: openai.NewClient(cfg.OpenAIAPIKey),
		model:  model,
	}, nil
}

// Complete performs a single chat completion for the prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", oops.With("model", c.model).Wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", oops.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
