package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/metrics"
)

// ipcSlack is added to budget.maxDurationSeconds before the parent gives up
// waiting on the child and kills it, absorbing process-start and
// JSON-framing overhead that isn't part of the agent's own work.
const ipcSlack = 5 * time.Second

const defaultMaxDuration = 60 * time.Second

// Runner spawns the child executor binary for each run.
type Runner struct {
	// ChildPath is the path to the agent-exec binary.
	ChildPath string
}

// NewRunner returns a Runner that spawns childPath for each Run call.
func NewRunner(childPath string) *Runner {
	return &Runner{ChildPath: childPath}
}

// Run executes one agent invocation in a child process and returns its
// response. It enforces budget.maxDurationSeconds + ipcSlack as a hard
// kill deadline independent of the child's own internal timer.
func (r *Runner) Run(ctx context.Context, req Request) (Response, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ExecutorDuration)

	maxDuration := defaultMaxDuration
	if req.Budget != nil && req.Budget.MaxDurationSeconds > 0 {
		maxDuration = time.Duration(req.Budget.MaxDurationSeconds) * time.Second
	}

	killCtx, cancel := context.WithTimeout(ctx, maxDuration+ipcSlack)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.KindFatal, err, "marshal executor request")
	}

	cmd := exec.CommandContext(killCtx, r.ChildPath)
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if killCtx.Err() == context.DeadlineExceeded {
		metrics.ExecutorTimeoutsTotal.Inc()
		return Response{}, apierrors.Wrap(apierrors.KindNonRetryable, killCtx.Err(),
			"executor exceeded maximum duration (%s)", maxDuration)
	}
	if runErr != nil {
		return Response{}, apierrors.Wrap(apierrors.KindTransient, runErr,
			"executor exited abnormally: %s", firstLine(stderr.String()))
	}

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		return Response{}, apierrors.Wrap(apierrors.KindTransient, scanner.Err(), "executor produced no response line")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, apierrors.Wrap(apierrors.KindNonRetryable, err, "deserialization: malformed executor response")
	}

	if !resp.Success {
		return resp, apierrors.ClassifyMessage("%s", resp.ErrorMessage)
	}

	if resp.Costs.USD == 0 && (resp.Costs.TokensIn > 0 || resp.Costs.TokensOut > 0) {
		resp.Costs.USD = EstimateCostUSD(resp.Costs.TokensIn, resp.Costs.TokensOut)
	}
	return resp, nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// EstimateTokens approximates token count from character length when a
// provider does not report usage (spec: tokens ≈ ceil(len(text)/4)).
func EstimateTokens(text string) int64 {
	n := len(text)
	return int64((n + 3) / 4)
}

// EstimateCostUSD applies the fallback per-1k-token pricing used when a
// provider does not report cost directly.
func EstimateCostUSD(tokensIn, tokensOut int64) float64 {
	const inputPricePerThousand = 0.03
	const outputPricePerThousand = 0.06
	return float64(tokensIn)/1000*inputPricePerThousand + float64(tokensOut)/1000*outputPricePerThousand
}
