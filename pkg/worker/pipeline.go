package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/connector"
	"github.com/cuemby/agentctl/pkg/executor"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/types"
)

// processLease runs the full message-processing pipeline for one lease:
// receive, poison-check, execute, deliver, and report the outcome back to
// the control plane.
func (w *Worker) processLease(ctx context.Context, lease *leaseproto.LeaseMessage) {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-leaseCtx.Done():
		}
	}()

	logger := w.logger.With().Str("run_id", lease.RunID).Str("lease_id", lease.LeaseID).Logger()

	msg, err := w.input.Receive(leaseCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("input receive failed")
		w.failLease(ctx, lease, fmt.Sprintf("receive error: %v", err), true)
		return
	}
	if msg == nil {
		w.failLease(ctx, lease, "no input available", true)
		return
	}

	maxDeliveryCount := w.cfg.MaxDeliveryCount
	if msg.DeliveryCount > maxDeliveryCount {
		_ = w.input.DeadLetter(ctx, msg.ID, "PoisonMessage")
		metrics.DeadLetteredTotal.WithLabelValues("PoisonMessage").Inc()
		w.completeLeaseWithoutExecution(ctx, lease)
		return
	}

	agent, budget := agentSpecFromLease(lease)
	start := time.Now()
	resp, runErr := w.runner.Run(leaseCtx, executor.Request{AgentSpec: agent, Body: msg.Body, Budget: budget})
	if runErr != nil {
		w.handleFailure(ctx, lease, msg, maxDeliveryCount, runErr, "agent execution failed")
		return
	}

	idempotencyKey := fmt.Sprintf("%s-%s", lease.RunID, msg.ID)
	if err := w.output.Deliver(leaseCtx, idempotencyKey, []byte(resp.Result)); err != nil {
		w.handleFailure(ctx, lease, msg, maxDeliveryCount, err, "output delivery failed")
		return
	}

	if err := w.input.Complete(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Msg("completing input message after successful delivery")
	}
	metrics.MessagesProcessedTotal.WithLabelValues("success").Inc()

	end := time.Now()
	w.completeLease(ctx, lease, resp, start, end)
}

// handleFailure classifies err (by apierrors Kind) into the retryable or
// non-retryable branch of the pipeline and reports it both to the input
// connector and the control plane.
func (w *Worker) handleFailure(ctx context.Context, lease *leaseproto.LeaseMessage, msg *connector.Message, maxDeliveryCount int, err error, reason string) {
	retryable := apierrors.KindOf(err) != apierrors.KindNonRetryable

	if retryable {
		if msg.DeliveryCount+1 >= maxDeliveryCount {
			_ = w.input.DeadLetter(ctx, msg.ID, "MaxDeliveryCountExceeded")
			metrics.DeadLetteredTotal.WithLabelValues("MaxDeliveryCountExceeded").Inc()
		} else {
			_ = w.input.Abandon(ctx, msg.ID)
		}
		metrics.MessagesProcessedTotal.WithLabelValues("retryable_failure").Inc()
	} else {
		_ = w.input.DeadLetter(ctx, msg.ID, fmt.Sprintf("%s: %v", reason, err))
		metrics.DeadLetteredTotal.WithLabelValues("NonRetryable").Inc()
		metrics.MessagesProcessedTotal.WithLabelValues("non_retryable_failure").Inc()
	}

	w.failLease(ctx, lease, err.Error(), retryable)
}

func (w *Worker) failLease(ctx context.Context, lease *leaseproto.LeaseMessage, errMessage string, retryable bool) {
	_, err := w.leaseClient.Fail(ctx, &leaseproto.FailRequest{
		LeaseID:      lease.LeaseID,
		RunID:        lease.RunID,
		NodeID:       w.cfg.NodeID,
		ErrorMessage: errMessage,
		Retryable:    retryable,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("run_id", lease.RunID).Msg("reporting lease failure to control plane")
	}
}

func (w *Worker) completeLease(ctx context.Context, lease *leaseproto.LeaseMessage, resp executor.Response, start, end time.Time) {
	_, err := w.leaseClient.Complete(ctx, &leaseproto.CompleteRequest{
		LeaseID: lease.LeaseID,
		RunID:   lease.RunID,
		NodeID:  w.cfg.NodeID,
		Result:  resp.Result,
		Timings: leaseproto.TimingsMessage{StartedAt: &start, CompletedAt: &end, DurationMs: end.Sub(start).Milliseconds()},
		Costs:   leaseproto.CostsMessage{TokensIn: resp.Costs.TokensIn, TokensOut: resp.Costs.TokensOut, USD: resp.Costs.USD},
	})
	if err != nil {
		w.logger.Error().Err(err).Str("run_id", lease.RunID).Msg("reporting lease completion to control plane")
		return
	}
	metrics.RunCostUSD.Observe(resp.Costs.USD)
}

func (w *Worker) completeLeaseWithoutExecution(ctx context.Context, lease *leaseproto.LeaseMessage) {
	now := time.Now()
	_, err := w.leaseClient.Complete(ctx, &leaseproto.CompleteRequest{
		LeaseID: lease.LeaseID,
		RunID:   lease.RunID,
		NodeID:  w.cfg.NodeID,
		Result:  "discarded: poison message",
		Timings: leaseproto.TimingsMessage{StartedAt: &now, CompletedAt: &now},
	})
	if err != nil {
		w.logger.Error().Err(err).Str("run_id", lease.RunID).Msg("completing lease for discarded poison message")
	}
}

func agentSpecFromLease(lease *leaseproto.LeaseMessage) (*types.Agent, *types.Budget) {
	spec := lease.AgentSpec
	agent := &types.Agent{
		ID:           spec.AgentID,
		Instructions: spec.Instructions,
		ModelProfile: spec.ModelProfile,
		Tools:        spec.Tools,
	}

	var budget *types.Budget
	if spec.Budget != nil {
		budget = &types.Budget{
			MaxDurationSeconds: spec.Budget.MaxDurationSeconds,
			MaxTokens:          spec.Budget.MaxTokens,
			MaxUSD:             spec.Budget.MaxUSD,
		}
	}
	return agent, budget
}
