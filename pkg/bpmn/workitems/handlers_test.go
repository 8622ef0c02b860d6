package workitems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceProcess = `
id: service
nodes:
  - id: start
    type: startEvent
  - id: call
    type: serviceTask
    workItem: %s
  - id: failed
    type: boundaryEvent
    attachedTo: call
    event: {trigger: error}
  - id: endFailed
    type: endEvent
  - id: end
    type: endEvent
flows:
  - {id: f0, source: start, target: call}
  - {id: f1, source: call, target: end}
  - {id: f2, source: failed, target: endFailed}
`

func newEngine(t *testing.T, workItemType string, handler bpmn.WorkItemHandler) *bpmn.Engine {
	t.Helper()
	engine, err := bpmn.NewEngine(
		bpmn.WithLogger(hclog.NewNullLogger()),
		bpmn.WithWorkItemHandler(workItemType, handler),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Dispose)
	return engine
}

func deployService(t *testing.T, engine *bpmn.Engine, workItemType string) {
	t.Helper()
	_, err := engine.LoadFromBytes(t.Context(), fmt.Appendf(nil, serviceProcess, workItemType))
	require.NoError(t, err)
}

func TestServiceCompletesWithResults(t *testing.T) {
	// given
	engine := newEngine(t, "greet", Service(func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		return map[string]any{"greeting": fmt.Sprintf("Hello %v!", parameters["name"])}, nil
	}))
	deployService(t, engine, "greet")

	// when
	instance, err := engine.StartProcessInstance(t.Context(), "service", map[string]any{"name": "ann"})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Equal(t, "Hello ann!", instance.Variables["greeting"])
}

func TestServiceErrorFailsWorkItem(t *testing.T) {
	// given
	engine := newEngine(t, "charge", Service(func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		return nil, NewError("DECLINED", "card %s declined", "1234")
	}))
	deployService(t, engine, "charge")

	// when
	instance, err := engine.StartProcessInstance(t.Context(), "service", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Empty(t, instance.Incidents)
}

func TestServiceTechnicalErrorFailsInstance(t *testing.T) {
	// given
	engine := newEngine(t, "broken", Service(func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}))
	deployService(t, engine, "broken")

	// when
	instance, err := engine.StartProcessInstance(t.Context(), "service", nil)

	// then
	var runtimeErr *bpmn.RuntimeError
	assert.ErrorAs(t, err, &runtimeErr)
	require.NotNil(t, instance)
	assert.Equal(t, runtime.ProcessInstanceAborted, instance.State)
	require.Len(t, instance.Incidents, 1)
}

func TestLoggingCompletesRightAway(t *testing.T) {
	engine := newEngine(t, "log", NewLogging(hclog.NewNullLogger()))
	deployService(t, engine, "log")

	instance, err := engine.StartProcessInstance(t.Context(), "service", nil)

	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
}

func TestDoNothingLeavesWorkItemOpen(t *testing.T) {
	// given
	engine := newEngine(t, "manual", DoNothing{})
	deployService(t, engine, "manual")
	instance, err := engine.StartProcessInstance(t.Context(), "service", nil)
	require.NoError(t, err)
	items := engine.ActiveWorkItems(instance.Key)
	require.Len(t, items, 1)

	// when
	err = engine.CompleteWorkItem(t.Context(), items[0].Key, nil)

	// then
	require.NoError(t, err)
	done, err := engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
}

func TestQueueHandsOutWorkItems(t *testing.T) {
	// given
	queue := NewQueue()
	engine := newEngine(t, "queued", queue)
	deployService(t, engine, "queued")
	instance, err := engine.StartProcessInstance(t.Context(), "service", map[string]any{"customer": "ann"})
	require.NoError(t, err)
	require.Len(t, queue.Items(), 1)

	// when
	item, err := queue.Next(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, "call", item.ElementId)
	assert.Equal(t, "ann", item.Parameters["customer"])
	assert.Empty(t, queue.Items())
	_, ok := queue.Poll()
	assert.False(t, ok)

	// when
	require.NoError(t, engine.CompleteWorkItem(t.Context(), item.Key, map[string]any{"handled": true}))

	// then
	done, err := engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Equal(t, true, done.Variables["handled"])
}

func TestQueueDropsAbortedWorkItems(t *testing.T) {
	// given
	queue := NewQueue()
	engine := newEngine(t, "queued", queue)
	deployService(t, engine, "queued")
	instance, err := engine.StartProcessInstance(t.Context(), "service", nil)
	require.NoError(t, err)
	item := queue.Items()[0]

	// when
	require.NoError(t, engine.AbortProcessInstance(t.Context(), instance.Key))

	// then
	assert.Empty(t, queue.Items())
	assert.Equal(t, []int64{item.Key}, queue.Aborted())
}

func TestQueueNextHonorsContext(t *testing.T) {
	queue := NewQueue()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := queue.Next(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceiveCompletesOnMessage(t *testing.T) {
	// given
	engine, err := bpmn.NewEngine(bpmn.WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	t.Cleanup(engine.Dispose)
	receive := NewReceive(engine)
	engine.RegisterWorkItemHandler("Receive Task", receive)
	_, err = engine.LoadFromBytes(t.Context(), []byte(`
id: receive
nodes:
  - id: start
    type: startEvent
  - id: waitForPayment
    name: Payment
    type: receiveTask
  - id: end
    type: endEvent
flows:
  - {id: f0, source: start, target: waitForPayment}
  - {id: f1, source: waitForPayment, target: end}
`))
	require.NoError(t, err)
	instance, err := engine.StartProcessInstance(t.Context(), "receive", nil)
	require.NoError(t, err)

	// when
	other, err := receive.MessageReceived(t.Context(), "Shipment", nil)
	require.NoError(t, err)
	delivered, err := receive.MessageReceived(t.Context(), "Payment", map[string]any{"paid": true})

	// then
	require.NoError(t, err)
	assert.False(t, other)
	assert.True(t, delivered)
	done, err := engine.GetProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Equal(t, true, done.Variables["paid"])
}

func TestHTTPCompletesWithResponse(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"method": r.Method, "echo": body["name"]})
	}))
	defer server.Close()
	engine := newEngine(t, "http", NewHTTP(server.Client()))
	deployService(t, engine, "http")

	// when
	instance, err := engine.StartProcessInstance(t.Context(), "service", map[string]any{
		ParameterUrl:    server.URL,
		ParameterMethod: http.MethodPost,
		ParameterBody:   map[string]any{"name": "zenflow"},
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Equal(t, int64(http.StatusOK), instance.Variables[ResultStatus])
	assert.Equal(t, map[string]any{"method": "POST", "echo": "zenflow"}, instance.Variables[ResultBody])
}

func TestHTTPErrorStatusFailsWorkItem(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()
	engine := newEngine(t, "http", NewHTTP(nil))
	deployService(t, engine, "http")

	// when
	instance, err := engine.StartProcessInstance(t.Context(), "service", map[string]any{ParameterUrl: server.URL})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Empty(t, instance.Incidents)
	assert.Nil(t, instance.Variables[ResultStatus])
}

func TestHTTPWithoutUrlFailsInstance(t *testing.T) {
	engine := newEngine(t, "http", NewHTTP(nil))
	deployService(t, engine, "http")

	instance, err := engine.StartProcessInstance(t.Context(), "service", nil)

	assert.Error(t, err)
	require.NotNil(t, instance)
	assert.Equal(t, runtime.ProcessInstanceAborted, instance.State)
}
