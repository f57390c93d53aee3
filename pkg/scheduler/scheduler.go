// Package scheduler implements least-loaded-with-constraints placement: a
// pure function over the current node and run snapshots, with no storage
// access of its own.
package scheduler

import (
	"sort"
	"time"

	"github.com/cuemby/agentctl/pkg/types"
)

// heartbeatFreshness is the maximum age a node's last heartbeat may have and
// still be considered schedulable.
const heartbeatFreshness = 60 * time.Second

// Scheduler picks a target node for a pending run.
type Scheduler struct{}

// New returns a Scheduler. It holds no state; all inputs are passed per call.
func New() *Scheduler {
	return &Scheduler{}
}

// NodeLoad is the per-node diagnostic snapshot returned by GetNodeLoad.
type NodeLoad struct {
	TotalSlots     int     `json:"totalSlots"`
	ActiveRuns     int     `json:"activeRuns"`
	AvailableSlots int     `json:"availableSlots"`
	LoadPct        float64 `json:"loadPct"`
	HasCapacity    bool    `json:"hasCapacity"`
}

// Constraints is a set of (key, value-or-list) placement constraints. Each
// value is either a string or a []string; matching is case-sensitive.
type Constraints map[string]interface{}

// Select runs the least-loaded-with-constraints algorithm and returns the
// chosen node id, or "" if no node can take the run. now is injected so
// heartbeat-freshness checks are deterministic in tests.
func (s *Scheduler) Select(nodes []*types.Node, runs []*types.Run, constraints Constraints, now time.Time) string {
	candidates := s.eligibleNodes(nodes, constraints, now)
	loads := computeLoads(candidates, runs)

	var survivors []string
	for id, load := range loads {
		if load.AvailableSlots > 0 {
			survivors = append(survivors, id)
		}
	}
	if len(survivors) == 0 {
		return ""
	}

	sort.Slice(survivors, func(i, j int) bool {
		li, lj := loads[survivors[i]], loads[survivors[j]]
		if li.LoadPct != lj.LoadPct {
			return li.LoadPct < lj.LoadPct
		}
		if li.AvailableSlots != lj.AvailableSlots {
			return li.AvailableSlots > lj.AvailableSlots
		}
		return survivors[i] < survivors[j]
	})

	return survivors[0]
}

// GetNodeLoad exposes the per-node load snapshot for diagnostics and metrics,
// independent of constraint filtering or eligibility.
func (s *Scheduler) GetNodeLoad(nodes []*types.Node, runs []*types.Run) map[string]NodeLoad {
	return computeLoads(nodes, runs)
}

func (s *Scheduler) eligibleNodes(nodes []*types.Node, constraints Constraints, now time.Time) []*types.Node {
	var eligible []*types.Node
	for _, n := range nodes {
		if n.Status.State != types.NodeActive {
			continue
		}
		if now.Sub(n.LastHeartbeat) > heartbeatFreshness {
			continue
		}
		if !matchesConstraints(n, constraints) {
			continue
		}
		eligible = append(eligible, n)
	}
	return eligible
}

func matchesConstraints(n *types.Node, constraints Constraints) bool {
	for key, want := range constraints {
		got, ok := n.Metadata[key]
		if !ok {
			return false
		}
		switch v := want.(type) {
		case string:
			if got != v {
				return false
			}
		case []string:
			if !contains(v, got) {
				return false
			}
		case []interface{}:
			match := false
			for _, item := range v {
				if s, ok := item.(string); ok && s == got {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func computeLoads(nodes []*types.Node, runs []*types.Run) map[string]NodeLoad {
	activeByNode := make(map[string]int)
	for _, r := range runs {
		if r.Status == types.RunAssigned || r.Status == types.RunRunning {
			activeByNode[r.NodeID]++
		}
	}

	loads := make(map[string]NodeLoad, len(nodes))
	for _, n := range nodes {
		totalSlots := n.Capacity["slots"]

		activeRuns := n.Status.ActiveRuns
		if counted := activeByNode[n.ID]; counted > activeRuns {
			activeRuns = counted
		}

		availableSlots := totalSlots - activeRuns
		if availableSlots < 0 {
			availableSlots = 0
		}

		var loadPct float64
		if totalSlots == 0 {
			loadPct = 1.0
		} else {
			loadPct = float64(activeRuns) / float64(totalSlots)
		}

		loads[n.ID] = NodeLoad{
			TotalSlots:     totalSlots,
			ActiveRuns:     activeRuns,
			AvailableSlots: availableSlots,
			LoadPct:        loadPct,
			HasCapacity:    availableSlots > 0,
		}
	}
	return loads
}
