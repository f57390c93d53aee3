package chatclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

const defaultMaxTokens = 4096

// AnthropicClient calls the Anthropic Messages API. It carries no tool-use
// loop: the executor's agents are single-turn instruction followers, not
// the multi-step tool-calling agents the source's runner was (see
// cmd/agent-exec for the single request/response wire format).
//
// A circuit breaker sits in front of every call: once five consecutive
// calls fail, further Invoke calls fail fast for a cooldown window instead
// of burning each run's budget waiting on a provider that is down.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicClient builds a client from an API key and default model
// name. baseURL overrides the default endpoint when non-empty (useful for
// Anthropic-compatible proxies).
func NewAnthropicClient(apiKey, baseURL, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(5)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "anthropic-chat-client",
			MaxRequests: 1,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *AnthropicClient) Invoke(ctx context.Context, systemPrompt, userInput string, opts Options) (Result, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.invoke(ctx, systemPrompt, userInput, opts)
	})
	if err != nil {
		return Result{}, err
	}
	return result.(Result), nil
}

func (c *AnthropicClient) invoke(ctx context.Context, systemPrompt, userInput string, opts Options) (Result, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userInput))},
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Result{}, fmt.Errorf("anthropic API error (HTTP %d): %w", apiErr.StatusCode, apiErr)
		}
		return Result{}, fmt.Errorf("anthropic API error: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	return Result{
		Text:      text,
		TokensIn:  message.Usage.InputTokens,
		TokensOut: message.Usage.OutputTokens,
	}, nil
}
