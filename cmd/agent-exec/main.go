// Command agent-exec is the child side of the executor's IPC contract
// (spec §4.5.2): it reads one JSON request line from stdin, invokes the
// configured chat client, and writes one JSON response line to stdout. The
// parent (pkg/executor.Runner) forks this binary per lease and kills it if
// it overruns its budget.
package main

import (
	"context"
	"os"

	"github.com/cuemby/agentctl/pkg/chatclient"
	"github.com/cuemby/agentctl/pkg/executor"
)

func main() {
	client := newClient()
	executor.RunChild(context.Background(), os.Stdin, os.Stdout, client)
}

// newClient picks the chat client from the environment. ANTHROPIC_API_KEY
// selects the real Anthropic-backed client; AGENT_EXEC_FAKE_REPLY exists so
// integration tests and local runs can exercise the pipeline without a
// provider key.
func newClient() chatclient.ChatClient {
	if reply := os.Getenv("AGENT_EXEC_FAKE_REPLY"); reply != "" {
		return &chatclient.Fake{Result: chatclient.Result{Text: reply}}
	}
	return chatclient.NewAnthropicClient(
		os.Getenv("ANTHROPIC_API_KEY"),
		os.Getenv("ANTHROPIC_BASE_URL"),
		envOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
	)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
