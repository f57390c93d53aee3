package scheduler

import (
	"testing"
	"time"

	"github.com/cuemby/agentctl/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMatchesConstraintsCaseSensitive(t *testing.T) {
	node := &types.Node{ID: "n1", Metadata: map[string]string{"region": "US-EAST-1"}}
	assert.False(t, matchesConstraints(node, Constraints{"region": "us-east-1"}))
	assert.True(t, matchesConstraints(node, Constraints{"region": "US-EAST-1"}))
}

func TestMatchesConstraintsMissingKey(t *testing.T) {
	node := &types.Node{ID: "n1", Metadata: map[string]string{}}
	assert.False(t, matchesConstraints(node, Constraints{"region": "us-east-1"}))
}

func TestMatchesConstraintsEmptySetMatchesEverything(t *testing.T) {
	node := &types.Node{ID: "n1", Metadata: nil}
	assert.True(t, matchesConstraints(node, nil))
	assert.True(t, matchesConstraints(node, Constraints{}))
}

func TestEligibleNodesEmptyInput(t *testing.T) {
	sched := New()
	assert.Empty(t, sched.eligibleNodes(nil, nil, time.Now()))
	assert.Empty(t, sched.eligibleNodes([]*types.Node{}, nil, time.Now()))
}

func TestComputeLoadsMissingCapacityTreatedAsZeroSlots(t *testing.T) {
	node := &types.Node{ID: "n1", Capacity: nil, Status: types.NodeStatus{ActiveRuns: 0}}
	loads := computeLoads([]*types.Node{node}, nil)
	assert.Equal(t, 0, loads["n1"].TotalSlots)
	assert.Equal(t, 1.0, loads["n1"].LoadPct)
}

func TestSelectIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	now := time.Now()
	nodes := []*types.Node{
		activeNode("n1", 4, 2, now, nil),
		activeNode("n2", 4, 2, now, nil),
	}
	sched := New()
	first := sched.Select(nodes, nil, nil, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sched.Select(nodes, nil, nil, now))
	}
}
