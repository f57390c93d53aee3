package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/leasestore"
	"github.com/cuemby/agentctl/pkg/scheduler"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) *API {
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

	return New(store, leases, scheduler.New(), broker)
}

func doRequest(t *testing.T, api *API, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func TestRegisterNodeAndHeartbeat(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/v1/nodes:register", registerNodeRequest{
		NodeID: "node-a", Capacity: map[string]int{"slots": 4},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, api, http.MethodPost, "/v1/nodes/node-a:heartbeat", heartbeatRequest{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, api, http.MethodPost, "/v1/nodes/no-such-node:heartbeat", heartbeatRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAgentRejectsMissingFields(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/v1/agents", createAgentRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Errors)
}

func TestAgentVersionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/v1/agents", createAgentRequest{
		Name: "triage", Instructions: "triage inbound tickets",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent struct{ ID string `json:"id"` }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	rec = doRequest(t, api, http.MethodPost, "/v1/agents/"+agent.ID+":version", createAgentVersionRequest{Version: "not-semver"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, api, http.MethodPost, "/v1/agents/"+agent.ID+":version", createAgentVersionRequest{Version: "1.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, api, http.MethodPost, "/v1/agents/"+agent.ID+":version", createAgentVersionRequest{Version: "1.0.0"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, api, http.MethodGet, "/v1/agents/"+agent.ID+"/versions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/v1/runs", createRunRequest{AgentID: "agent-1", Version: "1.0.0"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var run struct{ ID string `json:"id"` }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = doRequest(t, api, http.MethodPost, "/v1/runs/"+run.ID+":cancel", cancelRunRequest{Reason: "operator abort"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, api, http.MethodPost, "/v1/runs/"+run.ID+":cancel", cancelRunRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cancelling an already-terminal run must fail")
}

func TestDeploymentRequiresExistingAgentVersion(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/v1/deployments", createDeploymentRequest{
		AgentID: "missing", Version: "1.0.0", Environment: "prod",
		Target: types.DeploymentTarget{Replicas: 1},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
