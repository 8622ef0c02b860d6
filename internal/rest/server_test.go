package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/bpmn/timer"
	"github.com/pbinitiative/zenflow/pkg/bpmn/workitems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	engine *bpmn.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine, err := bpmn.NewEngine(
		bpmn.WithClock(timer.NewPseudoClock(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))),
		bpmn.WithLogger(hclog.NewNullLogger()),
		bpmn.WithWorkItemHandler("Human Task", workitems.NewQueue()),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Dispose)
	conf := config.Config{
		Server:  config.Server{Context: "/"},
		Tracing: config.Tracing{Name: "zenflow-test"},
	}
	srv := httptest.NewServer(NewServer(engine, conf, nil).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: engine}
}

func (s *testServer) do(t *testing.T, method string, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.URL+path, reader)
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) deploy(t *testing.T, fixture string) {
	t.Helper()
	data, err := os.ReadFile("../../pkg/bpmn/test-cases/" + fixture)
	require.NoError(t, err)
	resp := s.do(t, http.MethodPost, "/v1/definitions", data)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestDeployAndCompleteUserTask(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "boundary-timer.yaml")

	// when
	resp := s.do(t, http.MethodPost, "/v1/process-instances", StartProcessInstanceRequest{ProcessId: "boundary-timer"})

	// then
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instance := decode[runtime.ProcessInstance](t, resp)
	assert.Equal(t, runtime.ProcessInstanceActive, instance.State)

	// when
	resp = s.do(t, http.MethodGet, fmt.Sprintf("/v1/process-instances/%d/work-items", instance.Key), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]runtime.WorkItem](t, resp)
	require.Len(t, items, 1)
	resp = s.do(t, http.MethodPost, fmt.Sprintf("/v1/work-items/%d/complete", items[0].Key), CompleteWorkItemRequest{Results: map[string]any{"approved": true}})

	// then
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodGet, fmt.Sprintf("/v1/process-instances/%d", instance.Key), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[runtime.ProcessInstance](t, resp)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Equal(t, true, done.Variables["approved"])
}

func TestAdvanceClockFiresTimer(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "boundary-timer.yaml")
	instance, err := s.engine.StartProcessInstance(t.Context(), "boundary-timer", nil)
	require.NoError(t, err)

	// when
	resp := s.do(t, http.MethodPost, "/v1/clock/advance", AdvanceClockRequest{Duration: "30m"})

	// then
	require.Equal(t, http.StatusOK, resp.StatusCode)
	advanced := decode[AdvanceClockResponse](t, resp)
	assert.Equal(t, 1, advanced.Fired)
	assert.Equal(t, time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC), advanced.Now.UTC())
	done, err := s.engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
}

func TestSignalEvent(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "signal-catch.yaml")
	instance, err := s.engine.StartProcessInstance(t.Context(), "signal-catch", nil)
	require.NoError(t, err)

	// when
	resp := s.do(t, http.MethodPost, "/v1/signals", SignalRequest{Key: "wake", Payload: "now"})

	// then
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[DeliveryResponse](t, resp).Delivered)
	done, err := s.engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
}

func TestAbortProcessInstance(t *testing.T) {
	s := newTestServer(t)
	s.deploy(t, "boundary-timer.yaml")
	instance, err := s.engine.StartProcessInstance(t.Context(), "boundary-timer", nil)
	require.NoError(t, err)

	resp := s.do(t, http.MethodDelete, fmt.Sprintf("/v1/process-instances/%d", instance.Key), nil)

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	aborted, err := s.engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceAborted, aborted.State)
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		status  int
		errType string
	}{
		{name: "unknown instance", method: http.MethodGet, path: "/v1/process-instances/12345", status: http.StatusNotFound, errType: "NOT_FOUND"},
		{name: "invalid instance key", method: http.MethodGet, path: "/v1/process-instances/abc", status: http.StatusBadRequest, errType: "BAD_REQUEST"},
		{name: "unknown work item", method: http.MethodPost, path: "/v1/work-items/1/abort", status: http.StatusNotFound, errType: "NOT_FOUND"},
		{name: "unknown process", method: http.MethodPost, path: "/v1/process-instances", body: StartProcessInstanceRequest{ProcessId: "missing"}, status: http.StatusBadRequest, errType: "BAD_REQUEST"},
		{name: "invalid definition", method: http.MethodPost, path: "/v1/definitions", body: []byte("id: broken\nnodes:\n  - id: a\n    type: nonsense\n"), status: http.StatusBadRequest, errType: "INVALID_DEFINITION"},
		{name: "invalid duration", method: http.MethodPost, path: "/v1/clock/advance", body: AdvanceClockRequest{Duration: "soon"}, status: http.StatusBadRequest, errType: "BAD_REQUEST"},
		{name: "unknown fact", method: http.MethodDelete, path: "/v1/facts/missing", status: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.errType != "" {
				assert.Equal(t, tt.errType, decode[ApiError](t, resp).Type)
			}
		})
	}
}

func TestFacts(t *testing.T) {
	// given
	s := newTestServer(t)

	// when
	resp := s.do(t, http.MethodPut, "/v1/facts/amount", ValueRequest{Value: 150})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPut, "/v1/facts/amount", ValueRequest{Value: 200})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// then
	resp = s.do(t, http.MethodGet, "/v1/facts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"amount": float64(200)}, decode[map[string]any](t, resp))
	resp = s.do(t, http.MethodPost, "/v1/rules/fire", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decode[FireRulesResponse](t, resp).Completed)
}

func TestStatusEchoesRequestId(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "implicit-end.yaml")
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, s.URL+"/system/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "test-request")

	// when
	resp, err := s.Client().Do(req)

	// then
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-request", resp.Header.Get("X-Request-Id"))
	status := decode[StatusResponse](t, resp)
	assert.Equal(t, s.engine.Name(), status.Name)
	assert.Equal(t, 1, status.Definitions)
}

func TestGeneratedRequestId(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/v1/definitions", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get("X-Request-Id"), 36)
	assert.Empty(t, decode[[]DefinitionSimple](t, resp))
}

func TestSuspendedInstanceRejectsWorkItemCompletion(t *testing.T) {
	// given
	s := newTestServer(t)
	s.deploy(t, "boundary-timer.yaml")
	instance, err := s.engine.StartProcessInstance(t.Context(), "boundary-timer", nil)
	require.NoError(t, err)
	items := s.engine.ActiveWorkItems(instance.Key)
	require.Len(t, items, 1)
	completePath := fmt.Sprintf("/v1/work-items/%d/complete", items[0].Key)

	// when
	resp := s.do(t, http.MethodPost, fmt.Sprintf("/v1/process-instances/%d/suspend", instance.Key), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPost, completePath, CompleteWorkItemRequest{})

	// then
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SUSPENDED", decode[ApiError](t, resp).Type)

	// when
	resp = s.do(t, http.MethodPost, fmt.Sprintf("/v1/process-instances/%d/resume", instance.Key), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPost, completePath, CompleteWorkItemRequest{})

	// then
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	done, err := s.engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
}
