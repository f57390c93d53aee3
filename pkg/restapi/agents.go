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

type createAgentRequest struct {
	Name            string                  `json:"name" validate:"required"`
	Description     string                  `json:"description"`
	Instructions    string                  `json:"instructions" validate:"required"`
	ModelProfile    map[string]string       `json:"modelProfile"`
	Budget          *types.Budget           `json:"budget"`
	Tools           []string                `json:"tools"`
	InputConnector  *types.ConnectorConfig  `json:"inputConnector"`
	OutputConnector *types.ConnectorConfig  `json:"outputConnector"`
	Metadata        map[string]string       `json:"metadata"`
}

func (a *API) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierrors.Validation("invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return
	}

	now := time.Now()
	agent := &types.Agent{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Description:     req.Description,
		Instructions:    req.Instructions,
		ModelProfile:    req.ModelProfile,
		Budget:          req.Budget,
		Tools:           req.Tools,
		InputConnector:  req.InputConnector,
		OutputConnector: req.OutputConnector,
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.CreateAgent(agent); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventAgentCreated, Message: agent.ID})
	writeJSON(w, http.StatusCreated, agent)
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.store.ListAgents()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agent, err := a.store.GetAgent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if agent == nil {
		writeError(w, apierrors.NotFound("agent %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (a *API) updateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := a.store.GetAgent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		writeError(w, apierrors.NotFound("agent %s not found", id))
		return
	}

	var req createAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierrors.Validation("invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Instructions = req.Instructions
	existing.ModelProfile = req.ModelProfile
	existing.Budget = req.Budget
	existing.Tools = req.Tools
	existing.InputConnector = req.InputConnector
	existing.OutputConnector = req.OutputConnector
	existing.Metadata = req.Metadata
	existing.UpdatedAt = time.Now()

	if err := a.store.UpdateAgent(existing); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventAgentUpdated, Message: existing.ID})
	writeJSON(w, http.StatusOK, existing)
}

func (a *API) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.DeleteAgent(id); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventAgentDeleted, Message: id})
	w.WriteHeader(http.StatusNoContent)
}

type createAgentVersionRequest struct {
	Version string      `json:"version" validate:"required"`
	Spec    *types.Agent `json:"spec"`
}

func (a *API) createAgentVersion(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req createAgentVersionRequest
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

	agent, err := a.store.GetAgent(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if agent == nil {
		writeError(w, apierrors.NotFound("agent %s not found", agentID))
		return
	}

	if existing, err := a.store.GetAgentVersion(agentID, req.Version); err != nil && !apierrors.IsNotFound(err) {
		writeError(w, err)
		return
	} else if err == nil && existing != nil {
		writeError(w, apierrors.Conflict("version %s already exists for agent %s", req.Version, agentID))
		return
	}

	spec := req.Spec
	if spec == nil {
		spec = agent
	}

	version := &types.AgentVersion{
		AgentID:   agentID,
		Version:   req.Version,
		Spec:      spec,
		CreatedAt: time.Now(),
	}
	if err := a.store.CreateAgentVersion(version); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (a *API) listAgentVersions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	versions, err := a.store.ListAgentVersions(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}
