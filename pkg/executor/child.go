package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/agentctl/pkg/chatclient"
	"github.com/cuemby/agentctl/pkg/types"
)

// RunChild implements the child side of the wire format: read one JSON
// request line from in, invoke client, write one JSON response line to out.
// It is the body of cmd/agent-exec's main, factored out so it can be
// exercised by tests without forking a process.
func RunChild(ctx context.Context, in io.Reader, out io.Writer, client chatclient.ChatClient) Response {
	req, err := readRequest(in)
	if err != nil {
		resp := Response{Success: false, ErrorMessage: fmt.Sprintf("deserialization: %v", err)}
		writeResponse(out, resp)
		return resp
	}

	resp := invoke(ctx, req, client)
	writeResponse(out, resp)
	return resp
}

func readRequest(in io.Reader) (Request, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("empty request")
	}
	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func writeResponse(out io.Writer, resp Response) {
	line, err := json.Marshal(resp)
	if err != nil {
		line = []byte(`{"success":false,"errorMessage":"deserialization: failed to marshal response"}`)
	}
	fmt.Fprintln(out, string(line))
}

func invoke(ctx context.Context, req Request, client chatclient.ChatClient) Response {
	if req.AgentSpec == nil {
		return Response{Success: false, ErrorMessage: "invalid format: agentSpec is required"}
	}

	deadline := 60 * time.Second
	if req.Budget != nil && req.Budget.MaxDurationSeconds > 0 {
		deadline = time.Duration(req.Budget.MaxDurationSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	opts := chatclient.Options{Model: req.AgentSpec.ModelProfile["model"], Tools: req.AgentSpec.Tools}
	if req.Budget != nil && req.Budget.MaxTokens > 0 {
		opts.MaxTokens = int64(req.Budget.MaxTokens)
	}

	result, err := client.Invoke(runCtx, req.AgentSpec.Instructions, req.Body, opts)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Response{Success: false, ErrorMessage: fmt.Sprintf("exceeded maximum duration: %v", err)}
		}
		return Response{Success: false, ErrorMessage: err.Error()}
	}

	tokensIn, tokensOut := result.TokensIn, result.TokensOut
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = EstimateTokens(req.Body)
		tokensOut = EstimateTokens(result.Text)
	}

	return Response{
		Success: true,
		Result:  result.Text,
		Costs: types.RunCosts{
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
			USD:       EstimateCostUSD(tokensIn, tokensOut),
		},
	}
}
