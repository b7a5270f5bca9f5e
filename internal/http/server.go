package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignatij/flowmirror/internal/log"
	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
	"github.com/ignatij/flowmirror/pkg/service"
	"github.com/ignatij/flowmirror/pkg/storage"
	"github.com/pkg/errors"
)

// Services bundles everything the HTTP surface needs.
type Services struct {
	Store     storage.Store
	Sync      *service.SyncService
	Dispatch  *service.DispatchService
	Reconcile *service.ReconcileService
	Worker    *service.ReconcileWorker
}

func StartServer(port string, svcs Services) error {
	mux := NewMux(svcs)
	log.GetLogger().Infof("Starting FlowMirror server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

// NewMux wires the handlers onto a fresh ServeMux so tests can mount it on an
// httptest server.
func NewMux(svcs Services) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/workflows", WorkflowsHandler(svcs))
	mux.HandleFunc("/workflows/", WorkflowByIDHandler(svcs))
	mux.HandleFunc("/executions/", ExecutionHandler(svcs))
	return mux
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "FlowMirror server is running")
}

// WorkflowsHandler lists the local mirror on GET and runs a catalog sync on
// POST.
func WorkflowsHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			workflows, err := svcs.Store.ListWorkflows()
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, workflows)
		case http.MethodPost:
			result, err := svcs.Sync.Sync(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// WorkflowByIDHandler serves /workflows/{id}, /workflows/{id}/dispatch and
// /workflows/{id}/executions.
func WorkflowByIDHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/workflows/"), "/"), "/")
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			http.Error(w, "Invalid workflow id", http.StatusBadRequest)
			return
		}
		action := ""
		if len(parts) > 1 {
			action = parts[1]
		}
		switch {
		case action == "" && r.Method == http.MethodGet:
			wf, err := svcs.Store.GetWorkflow(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, wf)
		case action == "executions" && r.Method == http.MethodGet:
			executions, err := svcs.Store.ListExecutions(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, executions)
		case action == "dispatch" && r.Method == http.MethodPost:
			dispatchHTTP(w, r, svcs, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

func dispatchHTTP(w http.ResponseWriter, r *http.Request, svcs Services, workflowID int64) {
	var req struct {
		OrganizationID string          `json:"organization_id"`
		UserID         string          `json:"user_id"`
		InputData      json.RawMessage `json:"input_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	result, err := svcs.Dispatch.Dispatch(r.Context(), workflowID, req.OrganizationID, req.UserID, req.InputData, models.ManualSource)
	if err != nil {
		// The execution record, if any, is still reported so the failure is
		// inspectable.
		if result.ExecutionID != 0 {
			writeJSON(w, statusFor(err), result)
			return
		}
		writeError(w, err)
		return
	}
	if svcs.Worker != nil && result.RemoteExecutionID != "" {
		svcs.Worker.Submit(result.ExecutionID)
	}
	writeJSON(w, http.StatusAccepted, result)
}

// ExecutionHandler serves /executions/{id} and /executions/{id}/reconcile.
func ExecutionHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/executions/"), "/"), "/")
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			http.Error(w, "Invalid execution id", http.StatusBadRequest)
			return
		}
		action := ""
		if len(parts) > 1 {
			action = parts[1]
		}
		switch {
		case action == "" && r.Method == http.MethodGet:
			exec, err := svcs.Store.GetExecution(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, exec)
		case action == "reconcile" && r.Method == http.MethodPost:
			result, err := svcs.Reconcile.Repoll(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	log.GetLogger().Errorf("Request failed: %v", err)
	http.Error(w, err.Error(), statusFor(err))
}

// statusFor maps the error taxonomy onto HTTP statuses. A missing integration
// configuration is a user-visible "not connected" state, not a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrNotConfigured):
		return http.StatusConflict
	case errors.Is(err, remote.ErrRemoteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
