// Package types defines the shared data model for the agent control plane:
// Agents, AgentVersions, Deployments, Nodes, Runs, Leases and Locks.
package types

import "time"

// Agent is a named definition of an LLM-driven task.
type Agent struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Instructions    string            `json:"instructions"`
	ModelProfile    map[string]string `json:"modelProfile"`
	Budget          *Budget           `json:"budget,omitempty"`
	Tools           []string          `json:"tools"`
	InputConnector  *ConnectorConfig  `json:"inputConnector,omitempty"`
	OutputConnector *ConnectorConfig  `json:"outputConnector,omitempty"`
	Metadata        map[string]string `json:"metadata"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Budget caps how long and how much an agent run may cost.
type Budget struct {
	MaxDurationSeconds int     `json:"maxDurationSeconds"`
	MaxTokens          int     `json:"maxTokens,omitempty"`
	MaxUSD             float64 `json:"maxUsd,omitempty"`
}

// ConnectorType enumerates the allowed connector kinds (§9 redesign: the
// source's free-form connector string becomes a closed enum).
type ConnectorType string

const (
	ConnectorServiceBus ConnectorType = "service-bus"
	ConnectorHTTP       ConnectorType = "http"
	ConnectorKafka      ConnectorType = "kafka"
	ConnectorStorage    ConnectorType = "storage"
	ConnectorSQL        ConnectorType = "sql"
)

// ConnectorConfig describes an input or output connector binding for an agent.
type ConnectorConfig struct {
	Type    ConnectorType     `json:"type"`
	Options map[string]string `json:"options"`
}

// AgentVersion is an immutable, SemVer-tagged snapshot of an Agent spec.
type AgentVersion struct {
	AgentID   string    `json:"agentId"`
	Version   string    `json:"version"`
	Spec      *Agent    `json:"spec,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeploymentStatusState enumerates a Deployment's lifecycle states.
type DeploymentStatusState string

const (
	DeploymentPending   DeploymentStatusState = "pending"
	DeploymentDeploying DeploymentStatusState = "deploying"
	DeploymentActive    DeploymentStatusState = "active"
	DeploymentFailed    DeploymentStatusState = "failed"
)

// DeploymentTarget describes the desired replica count and placement
// constraints for a Deployment.
type DeploymentTarget struct {
	Replicas    int                    `json:"replicas"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
}

// DeploymentStatus tracks the observed rollout state of a Deployment.
type DeploymentStatus struct {
	State         DeploymentStatusState `json:"state"`
	ReadyReplicas int                   `json:"readyReplicas"`
	LastUpdated   time.Time             `json:"lastUpdated"`
}

// Deployment is an intention to run a specific agent version in an environment.
type Deployment struct {
	ID          string           `json:"id"`
	AgentID     string           `json:"agentId"`
	Version     string           `json:"version"`
	Environment string           `json:"environment"`
	Target      DeploymentTarget `json:"target"`
	Status      DeploymentStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// NodeStatusState enumerates a worker Node's liveness state.
type NodeStatusState string

const (
	NodeActive      NodeStatusState = "active"
	NodeDraining    NodeStatusState = "draining"
	NodeUnreachable NodeStatusState = "unreachable"
)

// NodeStatus carries a Node's current load and liveness.
type NodeStatus struct {
	State          NodeStatusState `json:"state"`
	ActiveRuns     int             `json:"activeRuns"`
	AvailableSlots int             `json:"availableSlots"`
}

// Node is a worker process instance registered with the control plane.
type Node struct {
	ID            string            `json:"id"`
	Metadata      map[string]string `json:"metadata"`
	Capacity      map[string]int    `json:"capacity"`
	Status        NodeStatus        `json:"status"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
	RegisteredAt  time.Time         `json:"registeredAt"`
}

// RunStatus enumerates a Run's lifecycle state.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunAssigned  RunStatus = "assigned"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the final Run states.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunCosts tracks the token/dollar cost attributed to a Run.
type RunCosts struct {
	TokensIn  int64   `json:"tokensIn"`
	TokensOut int64   `json:"tokensOut"`
	USD       float64 `json:"usd"`
}

// RunError carries terminal/failure diagnostics for a Run.
type RunError struct {
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// RunTimings records wall-clock timestamps reached during a Run's lifecycle.
type RunTimings struct {
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs,omitempty"`
}

// Run is a single execution of one agent version against one external input.
type Run struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agentId"`
	Version      string     `json:"version"`
	DeploymentID string     `json:"deploymentId,omitempty"`
	NodeID       string     `json:"nodeId,omitempty"`
	Status       RunStatus  `json:"status"`
	RetryCount   int        `json:"retryCount"`
	Timings      RunTimings `json:"timings"`
	Costs        RunCosts   `json:"costs"`
	Error        RunError   `json:"error"`
	CreatedAt    time.Time  `json:"createdAt"`
	TerminalAt   *time.Time `json:"terminalAt,omitempty"`
}

// Lease is a transient, owner-stamped exclusive assignment of a Run to a Node.
type Lease struct {
	RunID     string    `json:"runId"`
	NodeID    string    `json:"nodeId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lease's TTL has passed as of now.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Lock is a generic owner-stamped advisory lock keyed by an arbitrary string.
type Lock struct {
	Key       string    `json:"key"`
	OwnerID   string    `json:"ownerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lock's TTL has passed as of now.
func (l *Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
