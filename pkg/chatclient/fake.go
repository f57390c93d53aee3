package chatclient

import "context"

// Fake is a test double that returns a canned result or error.
type Fake struct {
	Result Result
	Err    error

	LastSystemPrompt string
	LastUserInput    string
}

func (f *Fake) Invoke(ctx context.Context, systemPrompt, userInput string, opts Options) (Result, error) {
	f.LastSystemPrompt = systemPrompt
	f.LastUserInput = userInput
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}
