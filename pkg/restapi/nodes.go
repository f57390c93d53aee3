package restapi

import (
	"net/http"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type registerNodeRequest struct {
	NodeID   string            `json:"nodeId" validate:"required"`
	Metadata map[string]string `json:"metadata"`
	Capacity map[string]int    `json:"capacity" validate:"required"`
}

func (a *API) registerNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierrors.Validation("invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return
	}

	now := time.Now()
	node := &types.Node{
		ID:            req.NodeID,
		Metadata:      req.Metadata,
		Capacity:      req.Capacity,
		Status:        types.NodeStatus{State: types.NodeActive},
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	if err := a.store.CreateNode(node); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{ID: uuid.New().String(), Type: events.EventNodeJoined, Message: node.ID})
	writeJSON(w, http.StatusCreated, node)
}

type heartbeatRequest struct {
	Status         types.NodeStatusState `json:"status"`
	ActiveRuns     int                   `json:"activeRuns"`
	AvailableSlots int                   `json:"availableSlots"`
}

func (a *API) heartbeatNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, err := a.store.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, apierrors.NotFound("node %s not found", id))
		return
	}

	var req heartbeatRequest
	_ = readJSON(r, &req)

	wasUnreachable := node.Status.State == types.NodeUnreachable
	node.LastHeartbeat = time.Now()
	node.Status.ActiveRuns = req.ActiveRuns
	node.Status.AvailableSlots = req.AvailableSlots
	if req.Status != "" {
		node.Status.State = req.Status
	} else if wasUnreachable {
		node.Status.State = types.NodeActive
	}

	if err := a.store.UpdateNode(node); err != nil {
		writeError(w, err)
		return
	}
	if wasUnreachable && node.Status.State == types.NodeActive {
		a.broker.Publish(&events.Event{Type: events.EventNodeRecovered, Message: node.ID})
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *API) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.store.ListNodes()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *API) getNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, err := a.store.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if node == nil {
		writeError(w, apierrors.NotFound("node %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *API) deleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.DeleteNode(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
