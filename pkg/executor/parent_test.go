package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/agentctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptChild(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "child.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRunnerSuccess(t *testing.T) {
	child := scriptChild(t, `echo '{"success":true,"result":"ok","costs":{"tokensIn":10,"tokensOut":5,"usd":0.001}}'`)
	runner := NewRunner(child)

	resp, err := runner.Run(context.Background(), Request{AgentSpec: &types.Agent{}, Body: "hi"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Result)
}

func TestRunnerKillsSlowChild(t *testing.T) {
	child := scriptChild(t, `sleep 30; echo '{"success":true}'`)
	runner := NewRunner(child)

	req := Request{AgentSpec: &types.Agent{}, Body: "hi", Budget: &types.Budget{MaxDurationSeconds: 1}}

	start := time.Now()
	_, err := runner.Run(context.Background(), req)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded maximum duration")
	assert.Less(t, elapsed, 10*time.Second, "parent must kill the child at maxDurationSeconds+slack, not wait for it to finish")
}

func TestRunnerPropagatesChildFailure(t *testing.T) {
	child := scriptChild(t, `echo '{"success":false,"errorMessage":"invalid format: bad body"}'`)
	runner := NewRunner(child)

	_, err := runner.Run(context.Background(), Request{AgentSpec: &types.Agent{}, Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRunnerEstimatesCostWhenChildOmitsUSD(t *testing.T) {
	child := scriptChild(t, `echo '{"success":true,"result":"x","costs":{"tokensIn":100,"tokensOut":200,"usd":0}}'`)
	runner := NewRunner(child)

	resp, err := runner.Run(context.Background(), Request{AgentSpec: &types.Agent{}, Body: "hi"})
	require.NoError(t, err)
	assert.Greater(t, resp.Costs.USD, 0.0)
}
