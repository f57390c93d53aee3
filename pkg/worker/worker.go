// Package worker implements the worker runtime (spec §4.5): it registers
// with the control plane, heartbeats, pulls leases over the gRPC Lease
// Service, and runs the per-lease message-processing pipeline bounded by a
// concurrency semaphore.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/agentctl/pkg/connector"
	"github.com/cuemby/agentctl/pkg/executor"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/log"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Config holds worker tunables. Zero values are replaced by withDefaults.
type Config struct {
	NodeID               string
	Metadata             map[string]string
	Capacity             map[string]int
	MaxConcurrentLeases  int
	MaxDeliveryCount     int
	HeartbeatInterval    time.Duration
	DrainTimeout         time.Duration
	ControlPlaneHTTPAddr string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentLeases == 0 {
		c.MaxConcurrentLeases = 5
	}
	if c.MaxDeliveryCount == 0 {
		c.MaxDeliveryCount = 3
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Worker runs one node's entire lifecycle: register, heartbeat, pull leases,
// execute them, report back.
type Worker struct {
	cfg         Config
	leaseClient leaseproto.LeaseServiceClient
	httpClient  *http.Client
	httpBreaker *gobreaker.CircuitBreaker
	input       connector.InputConnector
	output      connector.OutputSink
	runner      *executor.Runner
	logger      zerolog.Logger

	sem          chan struct{}
	activeLeases int32

	stopCh    chan struct{}
	wg        sync.WaitGroup
	heartbeat sync.WaitGroup

	consecutiveHBFailures int32
}

// NewWorker wires a Worker around its collaborators. leaseClient talks to
// the control plane's gRPC Lease Service; the HTTP client talks to its REST
// API for registration and heartbeats.
func NewWorker(cfg Config, leaseClient leaseproto.LeaseServiceClient, input connector.InputConnector, output connector.OutputSink, runner *executor.Runner) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		cfg:         cfg,
		leaseClient: leaseClient,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		input:       input,
		output:      output,
		runner:      runner,
		logger:      log.WithNodeID(cfg.NodeID),
		sem:         make(chan struct{}, cfg.MaxConcurrentLeases),
		stopCh:      make(chan struct{}),
	}
	w.httpBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "control-plane-http",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("control plane circuit breaker state change")
		},
	})
	metrics.WorkerAvailableSlots.Set(float64(cfg.MaxConcurrentLeases))
	return w
}

// Start registers the node and launches the heartbeat and pull loops. It
// returns once registration succeeds; the loops run in the background until
// Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return fmt.Errorf("worker registration: %w", err)
	}

	w.heartbeat.Add(1)
	go w.heartbeatLoop()

	pullCtx, cancelPull := context.WithCancel(ctx)
	go func() {
		<-w.stopCh
		cancelPull()
	}()

	w.wg.Add(1)
	go w.pullLoop(pullCtx)

	return nil
}

// Stop stops accepting new leases and cancels the context of every in-flight
// lease, so running executions are killed and reported back as failures
// rather than left to finish. It then waits (up to DrainTimeout) for those
// lease goroutines to return, sends a final draining heartbeat, and returns.
func (w *Worker) Stop(ctx context.Context) {
	close(w.stopCh)

	w.sendHeartbeatStatus(ctx, "draining")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.DrainTimeout):
		w.logger.Warn().Msg("drain timeout exceeded, stopping with leases still in flight")
	}

	w.sendHeartbeatStatus(ctx, "draining")
	w.heartbeat.Wait()
}

type registerRequest struct {
	NodeID   string            `json:"nodeId"`
	Metadata map[string]string `json:"metadata"`
	Capacity map[string]int    `json:"capacity"`
}

func (w *Worker) register(ctx context.Context) error {
	body, _ := json.Marshal(registerRequest{NodeID: w.cfg.NodeID, Metadata: w.cfg.Metadata, Capacity: w.cfg.Capacity})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.ControlPlaneHTTPAddr+"/v1/nodes:register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.doHTTP(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("control plane rejected registration: status %d", resp.StatusCode)
	}
	w.logger.Info().Msg("registered with control plane")
	return nil
}

// doHTTP sends req through the control-plane circuit breaker: once five
// consecutive requests fail, further calls fail fast without hitting the
// network until the breaker's cooldown elapses.
func (w *Worker) doHTTP(req *http.Request) (*http.Response, error) {
	result, err := w.httpBreaker.Execute(func() (interface{}, error) {
		resp, err := w.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

type heartbeatRequest struct {
	Status         string `json:"status"`
	ActiveRuns     int    `json:"activeRuns"`
	AvailableSlots int    `json:"availableSlots"`
}

func (w *Worker) heartbeatLoop() {
	defer w.heartbeat.Done()
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sendHeartbeatStatus(context.Background(), "active")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sendHeartbeatStatus(ctx context.Context, status string) {
	active := int(atomic.LoadInt32(&w.activeLeases))
	slots := w.cfg.MaxConcurrentLeases - active

	body, _ := json.Marshal(heartbeatRequest{Status: status, ActiveRuns: active, AvailableSlots: slots})
	url := fmt.Sprintf("%s/v1/nodes/%s:heartbeat", w.cfg.ControlPlaneHTTPAddr, w.cfg.NodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error().Err(err).Msg("building heartbeat request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.doHTTP(req)
	if err != nil {
		w.recordHeartbeatFailure(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.recordHeartbeatFailure(fmt.Errorf("status %d", resp.StatusCode))
		return
	}
	atomic.StoreInt32(&w.consecutiveHBFailures, 0)
}

func (w *Worker) recordHeartbeatFailure(err error) {
	n := atomic.AddInt32(&w.consecutiveHBFailures, 1)
	ev := w.logger.Warn()
	if time.Duration(n)*w.cfg.HeartbeatInterval >= 3*w.cfg.HeartbeatInterval {
		ev = w.logger.Error()
	}
	ev.Err(err).Int32("consecutive_failures", n).Msg("heartbeat failed")
}
