package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cuemby/agentctl/pkg/chatclient"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunChildSuccessPath(t *testing.T) {
	req := Request{
		AgentSpec: &types.Agent{ModelProfile: map[string]string{"model": "claude-test"}, Instructions: "be terse"},
		Body:      "summarize this ticket",
	}
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(req))

	fake := &chatclient.Fake{Result: chatclient.Result{Text: "done", TokensIn: 10, TokensOut: 5}}
	var out bytes.Buffer

	resp := RunChild(context.Background(), &in, &out, fake)
	assert.True(t, resp.Success)
	assert.Equal(t, "done", resp.Result)
	assert.Equal(t, int64(10), resp.Costs.TokensIn)
	assert.Equal(t, "be terse", fake.LastSystemPrompt)
	assert.Equal(t, "summarize this ticket", fake.LastUserInput)

	var wire Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &wire))
	assert.True(t, wire.Success)
}

func TestRunChildMissingAgentSpecIsNonRetryable(t *testing.T) {
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(Request{Body: "x"}))

	var out bytes.Buffer
	resp := RunChild(context.Background(), &in, &out, &chatclient.Fake{})
	assert.False(t, resp.Success)
	assert.True(t, strings.Contains(resp.ErrorMessage, "invalid format"))
}

func TestRunChildMalformedRequestLine(t *testing.T) {
	in := strings.NewReader("not json\n")
	var out bytes.Buffer
	resp := RunChild(context.Background(), in, &out, &chatclient.Fake{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorMessage, "deserialization")
}

func TestRunChildFallsBackToEstimatedCostWhenProviderOmitsUsage(t *testing.T) {
	req := Request{AgentSpec: &types.Agent{Instructions: "x"}, Body: "hi"}
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(req))

	fake := &chatclient.Fake{Result: chatclient.Result{Text: "ok"}}
	var out bytes.Buffer

	resp := RunChild(context.Background(), &in, &out, fake)
	assert.True(t, resp.Success)
	assert.Greater(t, resp.Costs.TokensIn, int64(0))
	assert.Greater(t, resp.Costs.USD, 0.0)
}

func TestRunChildClientErrorPropagates(t *testing.T) {
	req := Request{AgentSpec: &types.Agent{Instructions: "x"}, Body: "hi"}
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(req))

	fake := &chatclient.Fake{Err: errors.New("upstream unavailable")}
	var out bytes.Buffer

	resp := RunChild(context.Background(), &in, &out, fake)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorMessage, "upstream unavailable")
}

func TestEstimateCostUSD(t *testing.T) {
	cost := EstimateCostUSD(1000, 1000)
	assert.InDelta(t, 0.09, cost, 0.0001)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(1), EstimateTokens("abc"))
	assert.Equal(t, int64(3), EstimateTokens("123456789"))
}
