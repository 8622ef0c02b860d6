package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/internal/appcontext"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/rules"
)

const maxBodySize = 4 << 20

type DefinitionSimple struct {
	Id      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version int32  `json:"version"`
}

type StartProcessInstanceRequest struct {
	ProcessId string         `json:"processId"`
	Variables map[string]any `json:"variables"`
}

type SignalRequest struct {
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

type MessageRequest struct {
	Name           string `json:"name"`
	CorrelationKey string `json:"correlationKey"`
	Data           any    `json:"data"`
}

type DeliveryResponse struct {
	Delivered bool `json:"delivered"`
}

type CompleteWorkItemRequest struct {
	Results map[string]any `json:"results"`
}

type FailWorkItemRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValueRequest struct {
	Value any `json:"value"`
}

type AdvanceClockRequest struct {
	Duration string `json:"duration"`
}

type AdvanceClockResponse struct {
	Fired int       `json:"fired"`
	Now   time.Time `json:"now"`
}

type FireRulesResponse struct {
	Completed int `json:"completed"`
}

type StatusResponse struct {
	Name             string    `json:"name"`
	Definitions      int       `json:"definitions"`
	ProcessInstances int       `json:"processInstances"`
	Now              time.Time `json:"now"`
}

func readJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := decoder.Decode(v); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

func processInstanceKeyCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := strconv.ParseInt(chi.URLParam(r, "processInstanceKey"), 10, 64)
		if err != nil {
			writeError(w, r, badRequest(fmt.Errorf("invalid process instance key: %w", err)))
			return
		}
		next.ServeHTTP(w, r.WithContext(appcontext.WithProcessInstanceKey(r.Context(), key)))
	})
}

func processInstanceKey(r *http.Request) int64 {
	key, _ := appcontext.ProcessInstanceKey(r.Context())
	return key
}

func workItemKey(r *http.Request) (int64, error) {
	key, err := strconv.ParseInt(chi.URLParam(r, "workItemKey"), 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Errorf("invalid work item key: %w", err))
	}
	return key, nil
}

func (s *Server) getDefinitions(w http.ResponseWriter, r *http.Request) {
	items := []DefinitionSimple{}
	for _, d := range s.engine.Definitions() {
		items = append(items, DefinitionSimple{Id: d.Id, Name: d.Name, Version: d.Version})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) deployDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}
	definition, err := s.engine.LoadFromBytes(r.Context(), data)
	if err != nil {
		if errors.Is(err, bpmn.ErrEngineDisposed) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "INVALID_DEFINITION"})
		return
	}
	log.Infof(r.Context(), "deployed definition %s version %d", definition.Id, definition.Version)
	writeJSON(w, http.StatusCreated, DefinitionSimple{Id: definition.Id, Name: definition.Name, Version: definition.Version})
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	definition, ok := s.engine.GetDefinition(chi.URLParam(r, "definitionId"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ApiError{Message: "definition not found", Type: "NOT_FOUND"})
		return
	}
	data, err := model.Marshal(definition)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (s *Server) getProcessInstances(w http.ResponseWriter, r *http.Request) {
	state := runtime.ProcessInstanceState(r.URL.Query().Get("state"))
	items := []*runtime.ProcessInstance{}
	for _, instance := range s.engine.ProcessInstances() {
		if state == "" || instance.State == state {
			items = append(items, instance)
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) startProcessInstance(w http.ResponseWriter, r *http.Request) {
	var req StartProcessInstanceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	instance, err := s.engine.StartProcessInstance(r.Context(), req.ProcessId, req.Variables)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Infof(appcontext.WithProcessInstanceKey(r.Context(), instance.Key), "started process instance of %s", req.ProcessId)
	writeJSON(w, http.StatusCreated, instance)
}

func (s *Server) restoreProcessInstance(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}
	instance, err := s.engine.Restore(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, instance)
}

func (s *Server) getProcessInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := s.engine.GetProcessInstance(r.Context(), processInstanceKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (s *Server) abortProcessInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.AbortProcessInstance(r.Context(), processInstanceKey(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) suspendProcessInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SuspendProcessInstance(r.Context(), processInstanceKey(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeProcessInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResumeProcessInstance(r.Context(), processInstanceKey(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serializeProcessInstance(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.Serialize(r.Context(), processInstanceKey(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) getProcessInstanceWorkItems(w http.ResponseWriter, r *http.Request) {
	key := processInstanceKey(r)
	if _, err := s.engine.GetProcessInstance(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	items := s.engine.ActiveWorkItems(key)
	if items == nil {
		items = []runtime.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) signalProcessInstance(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	delivered, err := s.engine.SignalProcessInstance(r.Context(), processInstanceKey(r), req.Key, req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivered})
}

func (s *Server) setVariable(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.engine.SetVariable(r.Context(), processInstanceKey(r), chi.URLParam(r, "name"), req.Value); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getWorkItem(w http.ResponseWriter, r *http.Request) {
	key, err := workItemKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	item, err := s.engine.GetWorkItem(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) completeWorkItem(w http.ResponseWriter, r *http.Request) {
	key, err := workItemKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CompleteWorkItemRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := s.engine.CompleteWorkItem(r.Context(), key, req.Results); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) abortWorkItem(w http.ResponseWriter, r *http.Request) {
	key, err := workItemKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.engine.AbortWorkItem(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) failWorkItem(w http.ResponseWriter, r *http.Request) {
	key, err := workItemKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req FailWorkItemRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.engine.FailWorkItem(r.Context(), key, req.Code, req.Message); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) signalEvent(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	delivered, err := s.engine.SignalEvent(r.Context(), req.Key, req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivered})
}

func (s *Server) publishMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	delivered, err := s.engine.PublishMessage(r.Context(), req.Name, req.CorrelationKey, req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivered})
}

func (s *Server) getFacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Facts())
}

// putFact updates a known fact and inserts an unknown one.
func (s *Server) putFact(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	err := s.engine.UpdateFact(r.Context(), name, req.Value)
	if errors.Is(err, rules.ErrFactNotFound) {
		err = s.engine.InsertFact(r.Context(), name, req.Value)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retractFact(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RetractFact(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fireAllRules(w http.ResponseWriter, r *http.Request) {
	completed, err := s.engine.FireAllRules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FireRulesResponse{Completed: completed})
}

func (s *Server) advanceClock(w http.ResponseWriter, r *http.Request) {
	var req AdvanceClockRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}
	fired, err := s.engine.AdvanceClock(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceClockResponse{Fired: fired, Now: s.engine.Clock().Now()})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Name:             s.engine.Name(),
		Definitions:      len(s.engine.Definitions()),
		ProcessInstances: len(s.engine.ProcessInstances()),
		Now:              s.engine.Clock().Now(),
	})
}
