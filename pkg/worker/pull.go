package worker

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/metrics"
)

// pullLoop owns the gRPC Pull stream for the worker's lifetime, reconnecting
// with exponential backoff and jitter on every stream error.
func (w *Worker) pullLoop(ctx context.Context) {
	defer w.wg.Done()

	attempt := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		stream, err := w.leaseClient.Pull(ctx, &leaseproto.PullRequest{
			NodeID:    w.cfg.NodeID,
			MaxLeases: int32(w.cfg.MaxConcurrentLeases),
		})
		if err != nil {
			w.logger.Warn().Err(err).Int("attempt", attempt).Msg("pull stream open failed")
			if !w.sleepBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		if !w.consumeStream(ctx, stream) {
			return
		}
		metrics.WorkerReconnectsTotal.Inc()
		if !w.sleepBackoff(attempt) {
			return
		}
		attempt++
	}
}

// sleepBackoff waits min(60, 2^attempt) + jitter[0,2) seconds, or returns
// false if the worker was asked to stop while waiting.
func (w *Worker) sleepBackoff(attempt int) bool {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 60*time.Second {
		backoff = 60 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))

	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stopCh:
		return false
	}
}

// consumeStream reads leases until the stream errors or the worker stops. It
// returns false when the worker should stop entirely, true when it should
// reconnect and keep going.
func (w *Worker) consumeStream(ctx context.Context, stream leaseproto.LeaseService_PullClient) bool {
	for {
		select {
		case <-w.stopCh:
			return false
		default:
		}

		lease, err := stream.Recv()
		if err != nil {
			w.logger.Warn().Err(err).Msg("pull stream closed")
			return true
		}

		if !w.acquireSlot() {
			return false
		}
		if err := w.ackLease(ctx, lease); err != nil {
			w.logger.Error().Err(err).Str("lease_id", lease.LeaseID).Msg("ack failed")
			w.releaseSlot()
			continue
		}

		w.wg.Add(1)
		go func(l *leaseproto.LeaseMessage) {
			defer w.wg.Done()
			defer w.releaseSlot()
			w.processLease(ctx, l)
		}(lease)
	}
}

// acquireSlot blocks until a concurrency slot is free or the worker stops.
// Gating Recv() behind this (the caller only asks for the next lease after
// a slot has been claimed for the current one) is the backpressure scheme:
// the worker never holds more unprocessed leases than it has capacity for.
func (w *Worker) acquireSlot() bool {
	select {
	case w.sem <- struct{}{}:
		n := atomic.AddInt32(&w.activeLeases, 1)
		metrics.WorkerActiveLeases.Set(float64(n))
		metrics.WorkerAvailableSlots.Set(float64(w.cfg.MaxConcurrentLeases) - float64(n))
		return true
	case <-w.stopCh:
		return false
	}
}

func (w *Worker) releaseSlot() {
	<-w.sem
	n := atomic.AddInt32(&w.activeLeases, -1)
	metrics.WorkerActiveLeases.Set(float64(n))
	metrics.WorkerAvailableSlots.Set(float64(w.cfg.MaxConcurrentLeases) - float64(n))
}

func (w *Worker) ackLease(ctx context.Context, lease *leaseproto.LeaseMessage) error {
	_, err := w.leaseClient.Ack(ctx, &leaseproto.AckRequest{
		LeaseID:   lease.LeaseID,
		NodeID:    w.cfg.NodeID,
		Timestamp: time.Now(),
	})
	return err
}
