// Package llm wraps an OpenAI-compatible chat endpoint with bounded retry.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/KeLuoJun/MindCast/internal/podcast"
)

// Defaults for chat calls when the caller does not override them.
const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 4096
	defaultRetries     = 3
)

// Client sends chat completions to an OpenAI-compatible endpoint
// (DeepSeek in the default configuration).
type Client struct {
	api     *openai.Client
	model   string
	retries int
}

// New builds a client for the given endpoint. An empty baseURL keeps the
// library default (api.openai.com).
func New(baseURL, apiKey, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		model:   model,
		retries: defaultRetries,
	}
}

// Chat sends the turns and returns the assistant reply text. Transport
// failures are retried a few times; the final failure surfaces
// as a hard error.
func (c *Client) Chat(ctx context.Context, turns []podcast.ConversationTurn, temperature float32, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Int("retries", c.retries).Msg("llm request failed")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no choices in response")
			log.Warn().Int("attempt", attempt).Msg("llm returned empty choice list")
			continue
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}
	return "", fmt.Errorf("llm request failed after %d retries: %w", c.retries, lastErr)
}
