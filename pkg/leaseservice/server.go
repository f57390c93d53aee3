// Package leaseservice implements the control plane's gRPC Lease Service
// (spec §4.4): it streams assigned leases to connected worker nodes,
// receives Ack/Complete/Fail, drives the Run state machine, and runs the
// heartbeat-based liveness reaper.
package leaseservice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/leasestore"
	"github.com/cuemby/agentctl/pkg/log"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/scheduler"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Config holds the dispatch/liveness tunables. Zero values are replaced with
// the package defaults by NewServer.
type Config struct {
	LeaseTTLSeconds      int
	DispatchTickInterval time.Duration
	LivenessCheckInterval time.Duration
	NodeUnreachableAfter time.Duration
	MaxRetryCount        int
}

func (c Config) withDefaults() Config {
	if c.LeaseTTLSeconds == 0 {
		c.LeaseTTLSeconds = 120
	}
	if c.DispatchTickInterval == 0 {
		c.DispatchTickInterval = 2 * time.Second
	}
	if c.LivenessCheckInterval == 0 {
		c.LivenessCheckInterval = 15 * time.Second
	}
	if c.NodeUnreachableAfter == 0 {
		c.NodeUnreachableAfter = 60 * time.Second
	}
	if c.MaxRetryCount == 0 {
		c.MaxRetryCount = 3
	}
	return c
}

// puller is one connected worker's outbound Pull stream.
type puller struct {
	nodeID    string
	maxLeases int
	stream    leaseproto.LeaseService_PullServer
	done      chan struct{}
}

// Server implements leaseproto.LeaseServiceServer.
type Server struct {
	store     storage.Store
	leases    leasestore.Store
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	cfg       Config
	logger    zerolog.Logger

	grpc *grpc.Server

	mu        sync.Mutex
	pullers   map[string]*puller
	leaseRuns map[string]string // leaseId -> runId, populated at dispatch

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServer wires a Lease Service over the given storage, lease store and
// scheduler. Transport is plaintext; mTLS is a Non-goal (spec.md §0).
func NewServer(store storage.Store, leases leasestore.Store, sched *scheduler.Scheduler, broker *events.Broker, cfg Config) *Server {
	s := &Server{
		store:     store,
		leases:    leases,
		scheduler: sched,
		broker:    broker,
		cfg:       cfg.withDefaults(),
		logger:    log.WithComponent("leaseservice"),
		pullers:   make(map[string]*puller),
		leaseRuns: make(map[string]string),
		stopCh:    make(chan struct{}),
	}
	s.grpc = grpc.NewServer()
	leaseproto.RegisterLeaseServiceServer(s.grpc, s)
	return s
}

// Start begins serving gRPC on addr and launches the dispatch tick and
// liveness reaper background loops. It blocks until the listener fails or
// Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("lease service listen: %w", err)
	}

	s.wg.Add(2)
	go s.dispatchLoop()
	go s.livenessLoop()

	s.logger.Info().Str("addr", addr).Msg("lease service listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server and background loops.
func (s *Server) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Pull registers nodeId as a puller and streams it lease assignments until
// the client disconnects or the server stops.
func (s *Server) Pull(req *leaseproto.PullRequest, stream leaseproto.LeaseService_PullServer) error {
	if req.NodeID == "" {
		return apierrors.Validation("nodeId is required")
	}
	maxLeases := int(req.MaxLeases)
	if maxLeases <= 0 {
		maxLeases = 1
	}

	p := &puller{nodeID: req.NodeID, maxLeases: maxLeases, stream: stream, done: make(chan struct{})}

	s.mu.Lock()
	s.pullers[req.NodeID] = p
	metrics.PullStreamsActive.Set(float64(len(s.pullers)))
	s.mu.Unlock()

	s.logger.Info().Str("node_id", req.NodeID).Msg("pull stream opened")

	defer func() {
		s.mu.Lock()
		if s.pullers[req.NodeID] == p {
			delete(s.pullers, req.NodeID)
		}
		metrics.PullStreamsActive.Set(float64(len(s.pullers)))
		s.mu.Unlock()
		close(p.done)
		s.logger.Info().Str("node_id", req.NodeID).Msg("pull stream closed")
	}()

	select {
	case <-stream.Context().Done():
		return stream.Context().Err()
	case <-s.stopCh:
		return nil
	}
}

// Ack advances a run from assigned to running iff the caller's nodeId
// matches the assigned node.
func (s *Server) Ack(ctx context.Context, req *leaseproto.AckRequest) (*leaseproto.AckResponse, error) {
	runID, ok := s.runIDForLease(req.LeaseID)
	if !ok {
		return nil, apierrors.NotOwner("ack: unknown lease %s", req.LeaseID)
	}

	lease, err := s.leases.GetLease(runID)
	if err != nil {
		return nil, err
	}
	if lease == nil || lease.NodeID != req.NodeID {
		return nil, apierrors.NotOwner("ack: lease %s is not held by node %s", req.LeaseID, req.NodeID)
	}

	run, err := s.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.NodeID != req.NodeID || run.Status != types.RunAssigned {
		return nil, apierrors.NotOwner("ack: run %s is not assigned to node %s", run.ID, req.NodeID)
	}

	run.Status = types.RunRunning
	now := time.Now()
	run.Timings.StartedAt = &now
	if err := s.store.UpdateRun(run); err != nil {
		return nil, err
	}
	s.broker.Publish(&events.Event{Type: events.EventRunRunning, Message: run.ID})
	return &leaseproto.AckResponse{}, nil
}

// Complete requires caller nodeId match, stores the result, releases the
// lease and transitions the run to completed.
func (s *Server) Complete(ctx context.Context, req *leaseproto.CompleteRequest) (*leaseproto.CompleteResponse, error) {
	lease, err := s.leases.GetLease(req.RunID)
	if err != nil {
		return nil, err
	}
	if lease == nil || lease.NodeID != req.NodeID {
		return nil, apierrors.NotOwner("complete: lease for run %s is not held by node %s", req.RunID, req.NodeID)
	}

	timings := types.RunTimings{
		StartedAt:   req.Timings.StartedAt,
		CompletedAt: req.Timings.CompletedAt,
		DurationMs:  req.Timings.DurationMs,
	}
	costs := types.RunCosts{
		TokensIn:  req.Costs.TokensIn,
		TokensOut: req.Costs.TokensOut,
		USD:       req.Costs.USD,
	}
	if err := s.store.CompleteRun(req.RunID, timings, costs); err != nil {
		return nil, err
	}
	if _, err := s.leases.ReleaseLease(req.RunID, req.NodeID); err != nil {
		s.logger.Warn().Err(err).Str("run_id", req.RunID).Msg("release lease after complete")
	}
	metrics.RunCostUSD.Observe(costs.USD)
	s.broker.Publish(&events.Event{Type: events.EventRunCompleted, Message: req.RunID})
	s.forgetLease(req.LeaseID)
	return &leaseproto.CompleteResponse{}, nil
}

// Fail requires caller nodeId match, stores error info, releases the lease
// and either reschedules the run to pending (retryable, under budget) or
// terminates it as failed.
func (s *Server) Fail(ctx context.Context, req *leaseproto.FailRequest) (*leaseproto.FailResponse, error) {
	lease, err := s.leases.GetLease(req.RunID)
	if err != nil {
		return nil, err
	}
	if lease == nil || lease.NodeID != req.NodeID {
		return nil, apierrors.NotOwner("fail: lease for run %s is not held by node %s", req.RunID, req.NodeID)
	}

	run, err := s.store.GetRun(req.RunID)
	if err != nil {
		return nil, err
	}

	if _, err := s.leases.ReleaseLease(req.RunID, req.NodeID); err != nil {
		s.logger.Warn().Err(err).Str("run_id", req.RunID).Msg("release lease after fail")
	}

	errInfo := types.RunError{ErrorMessage: req.ErrorMessage, ErrorDetails: req.ErrorDetails}
	timings := types.RunTimings{StartedAt: req.Timings.StartedAt, CompletedAt: req.Timings.CompletedAt, DurationMs: req.Timings.DurationMs}

	shouldRetry := req.Retryable && run.RetryCount < s.cfg.MaxRetryCount
	if shouldRetry {
		run.RetryCount++
		run.Status = types.RunPending
		run.NodeID = ""
		run.Error = errInfo
		if err := s.store.UpdateRun(run); err != nil {
			return nil, err
		}
		s.broker.Publish(&events.Event{Type: events.EventRunPending, Message: run.ID})
	} else {
		if err := s.store.FailRun(req.RunID, errInfo, timings); err != nil {
			return nil, err
		}
		s.broker.Publish(&events.Event{Type: events.EventRunFailed, Message: run.ID})
	}

	s.forgetLease(req.LeaseID)
	return &leaseproto.FailResponse{ShouldRetry: shouldRetry}, nil
}

// rememberLease records the leaseId -> runId mapping created by the
// dispatch loop; Ack only carries leaseId and must resolve the run through it.
func (s *Server) rememberLease(leaseID, runID string) {
	s.mu.Lock()
	s.leaseRuns[leaseID] = runID
	s.mu.Unlock()
}

func (s *Server) runIDForLease(leaseID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, ok := s.leaseRuns[leaseID]
	return runID, ok
}

func (s *Server) forgetLease(leaseID string) {
	s.mu.Lock()
	delete(s.leaseRuns, leaseID)
	s.mu.Unlock()
}
