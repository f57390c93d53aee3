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

type createRunRequest struct {
	AgentID      string `json:"agentId" validate:"required"`
	Version      string `json:"version" validate:"required"`
	DeploymentID string `json:"deploymentId"`
}

func (a *API) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
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

	run := &types.Run{
		ID:           uuid.New().String(),
		AgentID:      req.AgentID,
		Version:      req.Version,
		DeploymentID: req.DeploymentID,
		Status:       types.RunPending,
		CreatedAt:    time.Now(),
	}
	if err := a.store.CreateRun(run); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventRunPending, Message: run.ID})
	writeJSON(w, http.StatusCreated, run)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.ListRuns()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.store.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeError(w, apierrors.NotFound("run %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type completeRunRequest struct {
	Timings types.RunTimings `json:"timings"`
	Costs   types.RunCosts   `json:"costs"`
}

// completeRun is the operator-driven equivalent of the worker's gRPC
// Complete call, for manual intervention or migrated runs.
func (a *API) completeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeRunRequest
	_ = readJSON(r, &req)

	if err := a.store.CompleteRun(id, req.Timings, req.Costs); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventRunCompleted, Message: id})

	run, err := a.store.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type failRunRequest struct {
	ErrorMessage string           `json:"errorMessage" validate:"required"`
	ErrorDetails string           `json:"errorDetails"`
	Timings      types.RunTimings `json:"timings"`
}

func (a *API) failRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req failRunRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, apierrors.Validation("invalid request body: %v", err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationErrors(w, err)
		return
	}

	errInfo := types.RunError{ErrorMessage: req.ErrorMessage, ErrorDetails: req.ErrorDetails, Reason: "operator"}
	if err := a.store.FailRun(id, errInfo, req.Timings); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventRunFailed, Message: id})

	run, err := a.store.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type cancelRunRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRunRequest
	_ = readJSON(r, &req)

	run, err := a.store.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeError(w, apierrors.NotFound("run %s not found", id))
		return
	}
	if run.Status.IsTerminal() {
		writeError(w, apierrors.Validation("run %s is already terminal (%s)", id, run.Status))
		return
	}

	if err := a.store.CancelRun(id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	a.broker.Publish(&events.Event{Type: events.EventRunCancelled, Message: id})

	run, err = a.store.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
