// Package leaseproto defines the wire messages and client/server stubs for
// the control plane's Lease Service (Pull/Ack/Complete/Fail).
//
// The retrieved reference implementation this module was built from ships a
// generated `api/proto` package (protoc-compiled structs satisfying
// proto.Message/protoreflect.ProtoMessage) that grpc-go's default codec
// marshals with google.golang.org/protobuf. The .proto sources and that
// generated package were not available to build from, and hand-authoring a
// protoreflect-compliant struct by hand is impractical without protoc.
//
// Rather than fake protobuf, this package uses plain Go structs as gRPC
// messages and registers a codec under the name "proto" — the name
// grpc-go's transport negotiates by default — that marshals with
// encoding/json instead of vtprotobuf/protobuf-go. grpc.NewServer and
// grpc.NewClient, streaming, deadlines, and reconnection are all the real
// google.golang.org/grpc transport; only the wire encoding differs from a
// protoc-generated service. See jsonCodec in codec.go and DESIGN.md.
package leaseproto

import "time"

// PullRequest starts a server-streaming Pull call for nodeId, which will
// receive at most maxLeases concurrently outstanding leases.
type PullRequest struct {
	NodeID    string `json:"nodeId"`
	MaxLeases int32  `json:"maxLeases"`
}

// LeaseMessage is one lease assignment streamed to a worker.
type LeaseMessage struct {
	LeaseID   string            `json:"leaseId"`
	RunID     string            `json:"runId"`
	AgentSpec *AgentSpec        `json:"agentSpec"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// AgentSpec is the slice of an Agent's definition a worker needs to execute
// a run, sent inline with the lease so the worker need not call back to the
// REST API to fetch it.
type AgentSpec struct {
	AgentID      string            `json:"agentId"`
	Version      string            `json:"version"`
	Instructions string            `json:"instructions"`
	ModelProfile map[string]string `json:"modelProfile"`
	Budget       *BudgetMessage    `json:"budget,omitempty"`
	Tools        []string          `json:"tools"`
	Input        map[string]string `json:"input"`
}

// BudgetMessage mirrors types.Budget for wire transport.
type BudgetMessage struct {
	MaxDurationSeconds int     `json:"maxDurationSeconds"`
	MaxTokens          int     `json:"maxTokens,omitempty"`
	MaxUSD             float64 `json:"maxUsd,omitempty"`
}

// AckRequest acknowledges receipt of a lease, advancing assigned → running.
type AckRequest struct {
	LeaseID   string    `json:"leaseId"`
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
}

// AckResponse is empty; Ack either succeeds or returns a gRPC status error.
type AckResponse struct{}

// TimingsMessage mirrors types.RunTimings for wire transport.
type TimingsMessage struct {
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs,omitempty"`
}

// CostsMessage mirrors types.RunCosts for wire transport.
type CostsMessage struct {
	TokensIn  int64   `json:"tokensIn"`
	TokensOut int64   `json:"tokensOut"`
	USD       float64 `json:"usd"`
}

// CompleteRequest reports a successful run.
type CompleteRequest struct {
	LeaseID string         `json:"leaseId"`
	RunID   string         `json:"runId"`
	NodeID  string         `json:"nodeId"`
	Result  string         `json:"result"`
	Timings TimingsMessage `json:"timings"`
	Costs   CostsMessage   `json:"costs"`
}

// CompleteResponse is empty.
type CompleteResponse struct{}

// FailRequest reports a failed run.
type FailRequest struct {
	LeaseID      string         `json:"leaseId"`
	RunID        string         `json:"runId"`
	NodeID       string         `json:"nodeId"`
	ErrorMessage string         `json:"errorMessage"`
	ErrorDetails string         `json:"errorDetails"`
	Timings      TimingsMessage `json:"timings"`
	Retryable    bool           `json:"retryable"`
}

// FailResponse reports whether the control plane scheduled a retry.
type FailResponse struct {
	ShouldRetry bool `json:"shouldRetry"`
}
