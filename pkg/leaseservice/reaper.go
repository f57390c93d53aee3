package leaseservice

import (
	"time"

	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/types"
)

// livenessLoop marks nodes unreachable once their heartbeat goes stale and
// forces their in-flight runs back to pending so the scheduler can
// reassign them, and separately reclaims runs whose lease has gone stale
// even though the owning node is still heartbeating (e.g. a stuck per-lease
// goroutine on an otherwise healthy node).
func (s *Server) livenessLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.LivenessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reapUnreachableNodes()
			s.reapExpiredLeases()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) reapUnreachableNodes() {
	nodes, err := s.store.ListNodes()
	if err != nil {
		s.logger.Error().Err(err).Msg("liveness check: list nodes")
		return
	}

	now := time.Now()
	for _, n := range nodes {
		if n.Status.State == types.NodeUnreachable {
			continue
		}
		if now.Sub(n.LastHeartbeat) <= s.cfg.NodeUnreachableAfter {
			continue
		}

		n.Status.State = types.NodeUnreachable
		if err := s.store.UpdateNode(n); err != nil {
			s.logger.Error().Err(err).Str("node_id", n.ID).Msg("mark node unreachable")
			continue
		}
		s.broker.Publish(&events.Event{Type: events.EventNodeUnreachable, Message: n.ID})
		s.logger.Warn().Str("node_id", n.ID).Msg("node marked unreachable, releasing its runs")

		s.releaseRunsFor(n.ID)
	}
}

// reapExpiredLeases reverts assigned/running runs back to pending once
// their lease is absent or expired, independent of the owning node's
// heartbeat. This covers the case the node-unreachable path can't: the
// node is healthy, but the lease that backs this particular run went
// stale anyway.
func (s *Server) reapExpiredLeases() {
	runs, err := s.store.ListRuns()
	if err != nil {
		s.logger.Error().Err(err).Msg("lease expiry check: list runs")
		return
	}

	for _, r := range runs {
		if r.NodeID == "" || r.Status.IsTerminal() {
			continue
		}
		if r.Status != types.RunAssigned && r.Status != types.RunRunning {
			continue
		}

		lease, err := s.leases.GetLease(r.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("run_id", r.ID).Msg("lease expiry check: get lease")
			continue
		}
		if lease != nil {
			continue
		}

		s.logger.Warn().Str("run_id", r.ID).Str("node_id", r.NodeID).Msg("lease expired without node becoming unreachable, reverting run to pending")

		staleNodeID := r.NodeID
		r.Status = types.RunPending
		r.NodeID = ""
		if err := s.store.UpdateRun(r); err != nil {
			s.logger.Error().Err(err).Str("run_id", r.ID).Msg("revert run to pending after lease expiry")
			continue
		}
		if _, err := s.leases.AdminReleaseLease(r.ID); err != nil {
			s.logger.Warn().Err(err).Str("run_id", r.ID).Msg("admin release lease after expiry")
		}

		metrics.LeaseExpiredTotal.Inc()
		s.broker.Publish(&events.Event{Type: events.EventRunPending, Message: r.ID, Metadata: map[string]string{"node_id": staleNodeID}})
	}
}

func (s *Server) releaseRunsFor(nodeID string) {
	runs, err := s.store.ListRuns()
	if err != nil {
		s.logger.Error().Err(err).Msg("liveness check: list runs")
		return
	}

	for _, r := range runs {
		if r.NodeID != nodeID || r.Status.IsTerminal() {
			continue
		}
		r.Status = types.RunPending
		r.NodeID = ""
		if err := s.store.UpdateRun(r); err != nil {
			s.logger.Error().Err(err).Str("run_id", r.ID).Msg("revert run to pending")
			continue
		}
		if _, err := s.leases.AdminReleaseLease(r.ID); err != nil {
			s.logger.Warn().Err(err).Str("run_id", r.ID).Msg("admin release lease for unreachable node")
		}
		metrics.LeaseExpiredTotal.Inc()
		s.broker.Publish(&events.Event{Type: events.EventRunPending, Message: r.ID})
	}
}
