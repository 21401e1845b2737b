// Package anthropic implements parser.Completer on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultMaxTokens caps the reply length when Config.MaxTokens is unset.
const DefaultMaxTokens = 4096

const systemPrompt = "You extract structured data from web page text. Reply with JSON only."

// Config configures the client.
type Config struct {
	APIKey    string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL    string
	MaxRetries int
}

// Completer sends single-turn prompts to Claude models.
type Completer struct {
	client    sdk.Client
	maxTokens int64
}

// New builds a Completer. An empty API key is an error.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Completer{client: sdk.NewClient(opts...), maxTokens: maxTokens}, nil
}

// Complete returns the concatenated text blocks of the model's reply.
func (c *Completer) Complete(ctx context.Context, model, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("reply contained no text")
	}
	return b.String(), nil
}
