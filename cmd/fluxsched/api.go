package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fluxsched/fluxsched/internal/policy"
	"github.com/fluxsched/fluxsched/internal/schederr"
	"github.com/fluxsched/fluxsched/internal/scheduler"
	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// errMissingToken is returned when a request carries no bearer token.
var errMissingToken = errors.New("fluxsched: missing bearer token")

// api wires HTTP handlers for the Scheduler Core, authenticating every
// request through a Verifier (spec.md §6: "the core does not parse it; it
// calls PolicyGate.verify(token)").
type api struct {
	sched    *scheduler.Scheduler
	verifier policy.Verifier
}

type submitRequest struct {
	Type     string            `json:"type"`
	Payload  []byte            `json:"payload"`
	Priority int               `json:"priority"`
	Metadata map[string]string `json:"metadata"`
}

func (a *api) principalFromRequest(r *http.Request) (*taskmodel.Principal, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return nil, errMissingToken
	}
	return a.verifier.Verify(token)
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, err := a.principalFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task := &taskmodel.Task{
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: req.Priority,
		Metadata: req.Metadata,
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	var id string
	if idempotencyKey != "" {
		id, err = a.sched.SubmitIdempotent(r.Context(), task, principal, idempotencyKey)
	} else {
		id, err = a.sched.Submit(task, principal)
	}
	if err != nil {
		writeSchedulerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"task_id": id})
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, err := a.principalFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
	taskID = strings.TrimSuffix(taskID, "/cancel")
	if taskID == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}

	cancelled, err := a.sched.Cancel(taskID, principal)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"cancelled": cancelled})
}

func writeSchedulerError(w http.ResponseWriter, err error) {
	switch err {
	case errMissingToken, schederr.ErrInvalidPrincipal, schederr.ErrUnauthorized:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case schederr.ErrUnknownTask:
		http.Error(w, err.Error(), http.StatusNotFound)
	case schederr.ErrDuplicateTask:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
