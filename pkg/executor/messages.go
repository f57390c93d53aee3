// Package executor isolates a single agent run in a plain OS child process
// (spec §4.5.2): the parent writes one JSON request line to the child's
// stdin and closes it, the child writes one JSON response line to stdout
// and exits. There is no container runtime involved — Non-goals cap
// isolation at "separate processes" — so os/exec plays the role the
// teacher's containerd integration played for service tasks.
package executor

import "github.com/cuemby/agentctl/pkg/types"

// Request is the single-line JSON document written to the child's stdin.
type Request struct {
	AgentSpec *types.Agent `json:"agentSpec"`
	Body      string       `json:"body"`
	Budget    *types.Budget `json:"budget,omitempty"`
}

// Response is the single-line JSON document the child writes to stdout.
// Exit code 0 iff Success reflects outcome and a Response was produced.
type Response struct {
	Success      bool           `json:"success"`
	Result       string         `json:"result,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Costs        types.RunCosts `json:"costs"`
}
