package leaseservice

import (
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/scheduler"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/google/uuid"
)

// dispatchLoop periodically matches pending runs to connected pullers.
func (s *Server) dispatchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DispatchTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatchTick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) dispatchTick() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchTickDuration)

	runs, err := s.store.ListRuns()
	if err != nil {
		s.logger.Error().Err(err).Msg("dispatch tick: list runs")
		return
	}
	nodes, err := s.store.ListNodes()
	if err != nil {
		s.logger.Error().Err(err).Msg("dispatch tick: list nodes")
		return
	}

	for _, run := range runs {
		if run.Status != types.RunPending {
			continue
		}
		s.tryDispatch(run, nodes, runs)
	}
}

func (s *Server) tryDispatch(run *types.Run, nodes []*types.Node, runs []*types.Run) {
	constraints := s.deploymentConstraints(run.DeploymentID)

	nodeID := s.scheduler.Select(nodes, runs, constraints, time.Now())
	if nodeID == "" {
		metrics.RunsUnplaceable.Inc()
		return
	}

	s.mu.Lock()
	p, connected := s.pullers[nodeID]
	s.mu.Unlock()
	if !connected {
		return
	}

	outstanding := 0
	for _, r := range runs {
		if r.NodeID == nodeID && (r.Status == types.RunAssigned || r.Status == types.RunRunning) {
			outstanding++
		}
	}
	if outstanding >= p.maxLeases {
		return
	}

	ok, err := s.leases.AcquireLease(run.ID, nodeID, s.cfg.LeaseTTLSeconds)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("acquire lease")
		metrics.LeaseAcquireTotal.WithLabelValues("error").Inc()
		return
	}
	if !ok {
		metrics.LeaseAcquireTotal.WithLabelValues("conflict").Inc()
		return
	}
	metrics.LeaseAcquireTotal.WithLabelValues("acquired").Inc()

	leaseMsg, err := s.buildLeaseMessage(run)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("build lease message")
		_, _ = s.leases.ReleaseLease(run.ID, nodeID)
		return
	}

	if err := p.stream.Send(leaseMsg); err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("send lease: stream closed")
		_, _ = s.leases.ReleaseLease(run.ID, nodeID)
		return
	}

	s.rememberLease(leaseMsg.LeaseID, run.ID)

	now := time.Now()
	run.Status = types.RunAssigned
	run.NodeID = nodeID
	run.Timings.AssignedAt = &now
	if err := s.store.UpdateRun(run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("mark run assigned")
		return
	}

	metrics.RunsScheduled.Inc()
	s.broker.Publish(&events.Event{Type: events.EventRunAssigned, Message: run.ID, Metadata: map[string]string{"nodeId": nodeID}})
}

func (s *Server) deploymentConstraints(deploymentID string) scheduler.Constraints {
	if deploymentID == "" {
		return nil
	}
	d, err := s.store.GetDeployment(deploymentID)
	if err != nil || d == nil {
		return nil
	}
	return scheduler.Constraints(d.Target.Constraints)
}

func (s *Server) buildLeaseMessage(run *types.Run) (*leaseproto.LeaseMessage, error) {
	version, err := s.store.GetAgentVersion(run.AgentID, run.Version)
	if err != nil {
		return nil, err
	}
	if version == nil || version.Spec == nil {
		return nil, apierrors.NotFound("agent version %s/%s not found", run.AgentID, run.Version)
	}
	spec := version.Spec

	var budget *leaseproto.BudgetMessage
	if spec.Budget != nil {
		budget = &leaseproto.BudgetMessage{
			MaxDurationSeconds: spec.Budget.MaxDurationSeconds,
			MaxTokens:          spec.Budget.MaxTokens,
			MaxUSD:             spec.Budget.MaxUSD,
		}
	}

	return &leaseproto.LeaseMessage{
		LeaseID: uuid.New().String(),
		RunID:   run.ID,
		AgentSpec: &leaseproto.AgentSpec{
			AgentID:      spec.ID,
			Version:      run.Version,
			Instructions: spec.Instructions,
			ModelProfile: spec.ModelProfile,
			Budget:       budget,
			Tools:        spec.Tools,
		},
		ExpiresAt: time.Now().Add(time.Duration(s.cfg.LeaseTTLSeconds) * time.Second),
	}, nil
}
