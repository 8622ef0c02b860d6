package bpmn

import (
	"context"
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalStartEvent(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "signal-start.yaml")

	// when
	delivered, err := engine.SignalEvent(t.Context(), "go", "hello")

	// then
	require.NoError(t, err)
	assert.True(t, delivered)
	instances := engine.ProcessInstances()
	require.Len(t, instances, 1)
	assert.Equal(t, "hello", instances[0].Variables["payload"])
	assert.Len(t, engine.ActiveWorkItems(instances[0].Key), 1)
}

func TestUnknownSignalIsNotDelivered(t *testing.T) {
	engine := newTestEngine(t)
	engine.load(t, "signal-start.yaml")

	delivered, err := engine.SignalEvent(t.Context(), "stop", nil)

	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, engine.ProcessInstances())
}

func TestMessageStartEventCopiesPayload(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "message-start.yaml")

	// when
	first, err := engine.PublishMessage(t.Context(), "order", "", map[string]any{"orderId": "o-1"})
	require.NoError(t, err)
	second, err := engine.PublishMessage(t.Context(), "order", "", map[string]any{"orderId": "o-2"})
	require.NoError(t, err)

	// then
	assert.True(t, first)
	assert.True(t, second)
	instances := engine.ProcessInstances()
	require.Len(t, instances, 2)
	assert.Equal(t, "o-1", instances[0].Variables["orderId"])
	assert.Equal(t, "o-2", instances[1].Variables["orderId"])
}

func TestConditionStartEventFiresOnRisingEdge(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "condition-start.yaml")

	// when
	require.NoError(t, engine.InsertFact(t.Context(), "temperature", 20))

	// then
	assert.Empty(t, engine.ProcessInstances())

	// when
	require.NoError(t, engine.InsertFact(t.Context(), "temperature", 35))

	// then
	assert.Len(t, engine.ProcessInstances(), 1)

	// when
	require.NoError(t, engine.UpdateFact(t.Context(), "temperature", 40))

	// then
	assert.Len(t, engine.ProcessInstances(), 1)
	assert.Equal(t, 40, engine.Facts()["temperature"])
}

func TestConditionalCatchEventWaitsForVariable(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "conditional-catch.yaml")
	first := engine.start(t, "conditional-catch", map[string]any{"approved": false})
	second := engine.start(t, "conditional-catch", map[string]any{"approved": false})

	// when
	err := engine.SetVariable(t.Context(), first.Key, "approved", "true")

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, engine.get(t, first.Key).State)
	assert.Equal(t, runtime.ProcessInstanceActive, engine.get(t, second.Key).State)
	assert.Equal(t, []string{"start", "waitForApproval", "end"}, engine.completed(first.Key))
}

func TestConditionalCatchEventHoldingOnArrivalFires(t *testing.T) {
	engine := newTestEngine(t)
	engine.load(t, "conditional-catch.yaml")

	instance := engine.start(t, "conditional-catch", map[string]any{"approved": true})

	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
}

func TestMessageCatchEventUsesCorrelationKey(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "message-catch.yaml")
	first := engine.start(t, "message-catch", map[string]any{"orderId": "o-1"})
	second := engine.start(t, "message-catch", map[string]any{"orderId": "o-2"})

	// when
	delivered, err := engine.PublishMessage(t.Context(), "payment", "o-2", map[string]any{"amount": 10})

	// then
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, runtime.ProcessInstanceActive, engine.get(t, first.Key).State)
	done := engine.get(t, second.Key)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Equal(t, map[string]any{"amount": 10}, done.Variables["payment"])

	// nobody else waits for o-2
	delivered, err = engine.PublishMessage(t.Context(), "payment", "o-2", nil)
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestSignalCatchEventStoresPayload(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "signal-catch.yaml")
	first := engine.start(t, "signal-catch", nil)
	second := engine.start(t, "signal-catch", nil)

	// when
	delivered, err := engine.SignalEvent(t.Context(), "wake", "now")

	// then
	require.NoError(t, err)
	assert.True(t, delivered)
	for _, key := range []int64{first.Key, second.Key} {
		done := engine.get(t, key)
		assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
		assert.Equal(t, "now", done.Variables["wakeUp"])
	}
}

func TestSignalProcessInstanceReachesOnlyThatInstance(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "signal-catch.yaml")
	first := engine.start(t, "signal-catch", nil)
	second := engine.start(t, "signal-catch", nil)

	// when
	delivered, err := engine.SignalProcessInstance(t.Context(), first.Key, "wake", nil)

	// then
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, runtime.ProcessInstanceCompleted, engine.get(t, first.Key).State)
	assert.Equal(t, runtime.ProcessInstanceActive, engine.get(t, second.Key).State)

	// an ended instance ignores signals
	delivered, err = engine.SignalProcessInstance(t.Context(), first.Key, "wake", nil)
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestErrorEndEventCaughtByBoundary(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "error-boundary.yaml")

	// when
	instance := engine.start(t, "error-boundary", nil)

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Empty(t, instance.Incidents)
	completed := engine.completed(instance.Key)
	assert.Equal(t, []string{"start", "subStart", "fail", "caught", "handled", "endHandled"}, completed)
	assert.Contains(t, engine.history.Elements(instance.Key, exporter.ElementAborted), "sub")
}

func TestFailedWorkItemRaisesError(t *testing.T) {
	// given
	engine := newTestEngine(t, WithWorkItemHandler("Service Task", WorkItemHandlerFunc(
		func(ctx context.Context, item runtime.WorkItem, manager WorkItemManager) error {
			return manager.FailWorkItem(ctx, item.Key, "E7", "card declined")
		},
	)))
	engine.load(t, "work-item-error.yaml")

	// when
	instance := engine.start(t, "work-item-error", nil)

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	completed := engine.completed(instance.Key)
	assert.Contains(t, completed, "endRecovered")
	assert.NotContains(t, completed, "end")
	assert.Empty(t, engine.ActiveWorkItems(instance.Key))
}

func TestCompletedServiceTaskContinues(t *testing.T) {
	// given
	engine := newTestEngine(t, WithWorkItemHandler("Service Task", WorkItemHandlerFunc(
		func(ctx context.Context, item runtime.WorkItem, manager WorkItemManager) error {
			return manager.CompleteWorkItem(ctx, item.Key, map[string]any{"charged": true})
		},
	)))
	engine.load(t, "work-item-error.yaml")

	// when
	instance := engine.start(t, "work-item-error", nil)

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Equal(t, true, instance.Variables["charged"])
	assert.Equal(t, []string{"start", "charge", "end"}, engine.completed(instance.Key))
}

func TestUncaughtErrorAbortsWithIncident(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "uncaught-error.yaml")

	// when
	instance, err := engine.StartProcessInstance(t.Context(), "uncaught-error", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceAborted, instance.State)
	require.Len(t, instance.Incidents, 1)
	assert.Equal(t, "E1", instance.Incidents[0].Code)
	assert.Equal(t, "fail", instance.Incidents[0].ElementId)
}

func TestNonInterruptingEscalationKeepsSubProcessRunning(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "escalation.yaml")

	// when
	instance := engine.start(t, "escalation", nil)

	// then
	assert.Equal(t, runtime.ProcessInstanceActive, instance.State)
	assert.Contains(t, engine.completed(instance.Key), "endNotified")
	item := engine.onlyWorkItem(t, instance.Key)
	assert.Equal(t, "finish", item.ElementId)

	// when
	require.NoError(t, engine.CompleteWorkItem(t.Context(), item.Key, nil))

	// then
	done := engine.get(t, instance.Key)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Contains(t, engine.completed(instance.Key), "sub")
	assert.Contains(t, engine.completed(instance.Key), "end")
}

func TestTerminateEndEventCancelsEverything(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "terminate.yaml")

	// when
	instance := engine.start(t, "terminate", nil)

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	assert.Empty(t, instance.NodeInstances)
	assert.Len(t, engine.tasks.Aborted(), 1)
	assert.Equal(t, []string{"waiting"}, engine.history.Elements(instance.Key, exporter.ElementAborted))
}

func TestLocalTerminateEndsOnlySubProcess(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "terminate-local.yaml")

	// when
	instance := engine.start(t, "terminate-local", nil)

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, instance.State)
	completed := engine.completed(instance.Key)
	assert.Contains(t, completed, "sub")
	assert.Contains(t, completed, "after")
	assert.Equal(t, "end", completed[len(completed)-1])
	assert.Equal(t, []string{"waiting"}, engine.history.Elements(instance.Key, exporter.ElementAborted))
}
