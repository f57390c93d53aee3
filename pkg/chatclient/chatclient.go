// Package chatclient defines the pluggable interface the child executor
// uses to invoke a language model, plus the default anthropic-sdk-go-backed
// implementation.
package chatclient

import "context"

// Options tunes a single Invoke call.
type Options struct {
	Model     string
	MaxTokens int64
	Tools     []string
}

// Result carries the model's text output and usage, when the provider
// reports it.
type Result struct {
	Text      string
	TokensIn  int64
	TokensOut int64
}

// ChatClient invokes a language model with a system prompt and user input.
// Implementations must respect ctx cancellation so the executor's budget
// timer can abort an in-flight call.
type ChatClient interface {
	Invoke(ctx context.Context, systemPrompt, userInput string, opts Options) (Result, error)
}
