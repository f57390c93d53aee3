package restapi

import (
	"net/http"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/semver"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createDeploymentRequest struct {
	AgentID     string                  `json:"agentId" validate:"required"`
	Version     string                  `json:"version" validate:"required"`
	Environment string                  `json:"environment" validate:"required"`
	Target      types.DeploymentTarget  `json:"target" validate:"required"`
}

func (a *API) createDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierrors.Validation("invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return
	}
	if !semver.Valid(req.Version) {
		writeError(w, apierrors.Validation("version %q is not valid SemVer 2.0.0", req.Version))
		return
	}

	version, err := a.store.GetAgentVersion(req.AgentID, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	if version == nil {
		writeError(w, apierrors.NotFound("agent version %s/%s not found", req.AgentID, req.Version))
		return
	}

	deployment := &types.Deployment{
		ID:          uuid.New().String(),
		AgentID:     req.AgentID,
		Version:     req.Version,
		Environment: req.Environment,
		Target:      req.Target,
		Status:      types.DeploymentStatus{State: types.DeploymentPending, LastUpdated: time.Now()},
		CreatedAt:   time.Now(),
	}
	if err := a.store.CreateDeployment(deployment); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventDeploymentCreated, Message: deployment.ID})
	writeJSON(w, http.StatusCreated, deployment)
}

func (a *API) listDeployments(w http.ResponseWriter, r *http.Request) {
	if agentID := r.URL.Query().Get("agentId"); agentID != "" {
		deployments, err := a.store.ListDeploymentsByAgent(agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deployments)
		return
	}

	deployments, err := a.store.ListDeployments()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (a *API) getDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := a.store.GetDeployment(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if d == nil {
		writeError(w, apierrors.NotFound("deployment %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}
