package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/rules"
)

type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e ApiError) Error() string {
	return e.Type + ": " + e.Message
}

func badRequest(err error) ApiError {
	return ApiError{Message: err.Error(), Type: "BAD_REQUEST"}
}

// toApiError maps engine errors to the status and body sent to the client.
func toApiError(err error) (int, ApiError) {
	var apiErr ApiError
	var engineErr *bpmn.BpmnEngineError
	var definitionErr *model.DefinitionError
	var runtimeErr *bpmn.RuntimeError
	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr
	case errors.Is(err, bpmn.ErrProcessInstanceNotFound),
		errors.Is(err, bpmn.ErrWorkItemNotFound),
		errors.Is(err, rules.ErrFactNotFound):
		return http.StatusNotFound, ApiError{Message: err.Error(), Type: "NOT_FOUND"}
	case errors.Is(err, bpmn.ErrNodeInstanceSuspended):
		return http.StatusConflict, ApiError{Message: err.Error(), Type: "SUSPENDED"}
	case errors.Is(err, bpmn.ErrEngineDisposed):
		return http.StatusServiceUnavailable, ApiError{Message: err.Error(), Type: "UNAVAILABLE"}
	case errors.As(err, &definitionErr):
		return http.StatusBadRequest, ApiError{Message: err.Error(), Type: "INVALID_DEFINITION"}
	case errors.As(err, &runtimeErr):
		return http.StatusUnprocessableEntity, ApiError{Message: err.Error(), Type: "PROCESS_FAILED"}
	case errors.As(err, &engineErr):
		return http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"}
	}
	return http.StatusInternalServerError, ApiError{Message: err.Error(), Type: "ERROR"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toApiError(err)
	if status >= http.StatusInternalServerError {
		log.Errorf(r.Context(), "%s %s failed: %s", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
