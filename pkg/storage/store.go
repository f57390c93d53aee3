package storage

import (
	"github.com/cuemby/agentctl/pkg/types"
)

// Store defines the interface for control-plane entity storage. It is
// implemented by BoltStore (embedded, single-writer); tests use a BoltStore
// opened on a temporary directory.
type Store interface {
	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error
	// DeleteAgent removes the agent and cascades to its versions and deployments.
	DeleteAgent(id string) error

	// Agent versions
	CreateAgentVersion(v *types.AgentVersion) error
	GetAgentVersion(agentID, version string) (*types.AgentVersion, error)
	// ListAgentVersions returns versions for agentID ordered by created-at descending.
	ListAgentVersions(agentID string) ([]*types.AgentVersion, error)

	// Deployments
	CreateDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	ListDeploymentsByAgent(agentID string) ([]*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
	DeleteDeployment(id string) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Runs
	CreateRun(run *types.Run) error
	GetRun(id string) (*types.Run, error)
	ListRuns() ([]*types.Run, error)
	UpdateRun(run *types.Run) error
	DeleteRun(id string) error

	// CompleteRun, FailRun and CancelRun are no-ops returning apierrors.NotFound
	// when the run does not exist; otherwise they stamp status, terminal-at
	// and the supplied fields.
	CompleteRun(runID string, timings types.RunTimings, costs types.RunCosts) error
	FailRun(runID string, errInfo types.RunError, timings types.RunTimings) error
	CancelRun(runID, reason string) error

	Close() error
}
