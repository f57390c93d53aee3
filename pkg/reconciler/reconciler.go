// Package reconciler runs a background loop that keeps observed state lined
// up with the facts storage already knows: nodes whose heartbeat has gone
// stale are marked unreachable, and deployments are promoted through their
// status lifecycle as their target agent version accumulates completed
// runs. It never creates runs itself — run creation is the external event
// producer's job.
package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/log"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/rs/zerolog"
)

// nodeUnreachableAfter is deliberately looser than the scheduler's 60s
// eligibility cutoff: a node the scheduler has already stopped considering
// shouldn't flip to unreachable (and publish an event) until it's been
// silent noticeably longer.
const nodeUnreachableAfter = 90 * time.Second

// Reconciler keeps Node liveness and Deployment status lined up with storage.
type Reconciler struct {
	store   storage.Store
	broker  *events.Broker
	logger  zerolog.Logger
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewReconciler creates a new reconciler over store, publishing transitions
// to broker.
func NewReconciler(store storage.Store, broker *events.Broker) *Reconciler {
	return &Reconciler{
		store:  store,
		broker: broker,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reconcileNodes(); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile nodes")
	}
	if err := r.reconcileDeployments(); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconcile deployments")
	}
	return nil
}

// reconcileNodes marks nodes unreachable once their heartbeat goes stale,
// and flips them back to active if a heartbeat resumes.
func (r *Reconciler) reconcileNodes() error {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}

	now := time.Now()
	for _, node := range nodes {
		stale := now.Sub(node.LastHeartbeat) > nodeUnreachableAfter

		switch {
		case stale && node.Status.State != types.NodeUnreachable:
			r.logger.Warn().
				Str("node_id", node.ID).
				Dur("since_heartbeat", now.Sub(node.LastHeartbeat)).
				Msg("node heartbeat stale, marking unreachable")
			node.Status.State = types.NodeUnreachable
			if err := r.store.UpdateNode(node); err != nil {
				r.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node unreachable")
				continue
			}
			r.broker.Publish(&events.Event{Type: events.EventNodeUnreachable, Metadata: map[string]string{"node_id": node.ID}})

		case !stale && node.Status.State == types.NodeUnreachable:
			r.logger.Info().Str("node_id", node.ID).Msg("node heartbeat resumed, marking active")
			node.Status.State = types.NodeActive
			if err := r.store.UpdateNode(node); err != nil {
				r.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node active")
				continue
			}
			r.broker.Publish(&events.Event{Type: events.EventNodeRecovered, Metadata: map[string]string{"node_id": node.ID}})
		}
	}

	return nil
}

// reconcileDeployments promotes each non-terminal deployment's status:
// pending becomes deploying immediately, and deploying becomes active once
// enough runs of its target agent version have completed to satisfy
// Target.Replicas. ReadyReplicas tracks that count, capped at Replicas.
func (r *Reconciler) reconcileDeployments() error {
	deployments, err := r.store.ListDeployments()
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}

	runs, err := r.store.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	for _, d := range deployments {
		switch d.Status.State {
		case types.DeploymentPending:
			d.Status.State = types.DeploymentDeploying
			d.Status.LastUpdated = time.Now()
			if err := r.store.UpdateDeployment(d); err != nil {
				r.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("failed to promote deployment to deploying")
				continue
			}

		case types.DeploymentDeploying:
			completed := 0
			for _, run := range runs {
				if run.AgentID == d.AgentID && run.Version == d.Version && run.Status == types.RunCompleted {
					completed++
				}
			}
			if completed > d.Target.Replicas {
				completed = d.Target.Replicas
			}
			d.Status.ReadyReplicas = completed
			d.Status.LastUpdated = time.Now()

			if completed >= d.Target.Replicas && d.Target.Replicas > 0 {
				d.Status.State = types.DeploymentActive
				r.logger.Info().Str("deployment_id", d.ID).Msg("deployment reached target replicas, marking active")
			}

			if err := r.store.UpdateDeployment(d); err != nil {
				r.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("failed to update deployment status")
				continue
			}
			if d.Status.State == types.DeploymentActive {
				r.broker.Publish(&events.Event{Type: events.EventDeploymentPromoted, Metadata: map[string]string{"deployment_id": d.ID}})
			}
		}
	}

	return nil
}
