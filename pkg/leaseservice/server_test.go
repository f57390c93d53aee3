package leaseservice

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/leasestore"
	"github.com/cuemby/agentctl/pkg/scheduler"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, storage.Store, leasestore.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	leases, err := leasestore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = leases.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	srv := NewServer(store, leases, scheduler.New(), broker, Config{MaxRetryCount: 3})
	return srv, store, leases
}

func seedAssignedRun(t *testing.T, srv *Server, store storage.Store, leases leasestore.Store, runID, nodeID string) {
	t.Helper()
	now := time.Now()
	run := &types.Run{ID: runID, AgentID: "agent-1", Version: "1.0.0", Status: types.RunAssigned, NodeID: nodeID, CreatedAt: now}
	require.NoError(t, store.CreateRun(run))

	ok, err := leases.AcquireLease(runID, nodeID, 60)
	require.NoError(t, err)
	require.True(t, ok)

	srv.rememberLease("lease-"+runID, runID)
}

func TestAckAdvancesAssignedToRunning(t *testing.T) {
	srv, store, leases := newTestServer(t)
	seedAssignedRun(t, srv, store, leases, "run-1", "node-a")

	_, err := srv.Ack(context.Background(), &leaseproto.AckRequest{LeaseID: "lease-run-1", NodeID: "node-a", Timestamp: time.Now()})
	require.NoError(t, err)

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, run.Status)
	assert.NotNil(t, run.Timings.StartedAt)
}

func TestAckRejectsWrongNode(t *testing.T) {
	srv, store, leases := newTestServer(t)
	seedAssignedRun(t, srv, store, leases, "run-1", "node-a")

	_, err := srv.Ack(context.Background(), &leaseproto.AckRequest{LeaseID: "lease-run-1", NodeID: "node-b", Timestamp: time.Now()})
	assert.Error(t, err)

	run, _ := store.GetRun("run-1")
	assert.Equal(t, types.RunAssigned, run.Status)
}

func TestAckRejectsUnknownLease(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, err := srv.Ack(context.Background(), &leaseproto.AckRequest{LeaseID: "no-such-lease", NodeID: "node-a"})
	assert.Error(t, err)
}

func TestCompleteReleasesLeaseAndTerminatesRun(t *testing.T) {
	srv, store, leases := newTestServer(t)
	seedAssignedRun(t, srv, store, leases, "run-1", "node-a")

	_, err := srv.Complete(context.Background(), &leaseproto.CompleteRequest{
		LeaseID: "lease-run-1", RunID: "run-1", NodeID: "node-a",
		Costs: leaseproto.CostsMessage{TokensIn: 100, TokensOut: 50, USD: 0.01},
	})
	require.NoError(t, err)

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.NotNil(t, run.TerminalAt)

	lease, err := leases.GetLease("run-1")
	require.NoError(t, err)
	assert.Nil(t, lease, "lease must be released on completion")
}

func TestCompleteRejectsWrongNode(t *testing.T) {
	srv, store, leases := newTestServer(t)
	seedAssignedRun(t, srv, store, leases, "run-1", "node-a")

	_, err := srv.Complete(context.Background(), &leaseproto.CompleteRequest{LeaseID: "lease-run-1", RunID: "run-1", NodeID: "node-b"})
	assert.Error(t, err)

	run, _ := store.GetRun("run-1")
	assert.Equal(t, types.RunAssigned, run.Status)
}

func TestFailRetryableUnderBudgetReturnsToPending(t *testing.T) {
	srv, store, leases := newTestServer(t)
	seedAssignedRun(t, srv, store, leases, "run-1", "node-a")

	resp, err := srv.Fail(context.Background(), &leaseproto.FailRequest{
		LeaseID: "lease-run-1", RunID: "run-1", NodeID: "node-a",
		ErrorMessage: "upstream 503", Retryable: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.ShouldRetry)

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunPending, run.Status)
	assert.Equal(t, "", run.NodeID)
	assert.Equal(t, 1, run.RetryCount)
}

func TestFailRetryableOverBudgetTerminates(t *testing.T) {
	srv, store, leases := newTestServer(t)
	now := time.Now()
	run := &types.Run{ID: "run-1", AgentID: "agent-1", Version: "1.0.0", Status: types.RunAssigned, NodeID: "node-a", RetryCount: 3, CreatedAt: now}
	require.NoError(t, store.CreateRun(run))
	ok, err := leases.AcquireLease("run-1", "node-a", 60)
	require.NoError(t, err)
	require.True(t, ok)
	srv.rememberLease("lease-run-1", "run-1")

	resp, err := srv.Fail(context.Background(), &leaseproto.FailRequest{
		LeaseID: "lease-run-1", RunID: "run-1", NodeID: "node-a", Retryable: true,
	})
	require.NoError(t, err)
	assert.False(t, resp.ShouldRetry)

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
}

func TestFailNonRetryableTerminatesImmediately(t *testing.T) {
	srv, store, leases := newTestServer(t)
	seedAssignedRun(t, srv, store, leases, "run-1", "node-a")

	resp, err := srv.Fail(context.Background(), &leaseproto.FailRequest{
		LeaseID: "lease-run-1", RunID: "run-1", NodeID: "node-a",
		ErrorMessage: "invalid format", Retryable: false,
	})
	require.NoError(t, err)
	assert.False(t, resp.ShouldRetry)

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestReapUnreachableNodesRevertsItsRuns(t *testing.T) {
	srv, store, _ := newTestServer(t)

	node := &types.Node{ID: "node-a", Status: types.NodeStatus{State: types.NodeActive}, LastHeartbeat: time.Now().Add(-2 * time.Minute)}
	require.NoError(t, store.CreateNode(node))

	run := &types.Run{ID: "run-1", AgentID: "agent-1", Version: "1.0.0", Status: types.RunRunning, NodeID: "node-a", CreatedAt: time.Now()}
	require.NoError(t, store.CreateRun(run))

	srv.cfg = srv.cfg.withDefaults()
	srv.reapUnreachableNodes()

	gotNode, err := store.GetNode("node-a")
	require.NoError(t, err)
	assert.Equal(t, types.NodeUnreachable, gotNode.Status.State)

	gotRun, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunPending, gotRun.Status)
	assert.Equal(t, "", gotRun.NodeID)
}
