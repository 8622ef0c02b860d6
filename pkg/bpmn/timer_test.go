package bpmn

import (
	"testing"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptingBoundaryTimerCancelsTask(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "boundary-timer.yaml")
	instance := engine.start(t, "boundary-timer", nil)
	item := engine.onlyWorkItem(t, instance.Key)
	assert.Equal(t, "Review", item.Name)

	// when
	fired, err := engine.AdvanceClock(t.Context(), 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, fired)
	fired, err = engine.AdvanceClock(t.Context(), 25*time.Minute)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	done := engine.get(t, instance.Key)
	assert.Equal(t, runtime.ProcessInstanceCompleted, done.State)
	assert.Equal(t, []string{"start", "expired", "timedOut"}, engine.completed(instance.Key))
	assert.Equal(t, []int64{item.Key}, engine.tasks.Aborted())
	assert.Empty(t, engine.ActiveWorkItems(instance.Key))

	err = engine.CompleteWorkItem(t.Context(), item.Key, nil)
	assert.ErrorIs(t, err, ErrWorkItemNotFound)
}

func TestCompletingTaskCancelsBoundaryTimer(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "boundary-timer.yaml")
	instance := engine.start(t, "boundary-timer", nil)
	item := engine.onlyWorkItem(t, instance.Key)

	// when
	require.NoError(t, engine.CompleteWorkItem(t.Context(), item.Key, nil))
	fired, err := engine.AdvanceClock(t.Context(), time.Hour)

	// then
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Equal(t, []string{"start", "review", "done"}, engine.completed(instance.Key))
}

func TestNonInterruptingCycleTimerRepeats(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "reminder-timer.yaml")
	instance := engine.start(t, "reminder-timer", nil)

	// when
	fired, err := engine.AdvanceClock(t.Context(), 30*time.Minute)

	// then
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
	reminded := 0
	for _, elementId := range engine.completed(instance.Key) {
		if elementId == "reminded" {
			reminded++
		}
	}
	assert.Equal(t, 2, reminded)
	assert.Equal(t, runtime.ProcessInstanceActive, engine.get(t, instance.Key).State)

	// when
	item := engine.onlyWorkItem(t, instance.Key)
	require.NoError(t, engine.CompleteWorkItem(t.Context(), item.Key, nil))

	// then
	assert.Equal(t, runtime.ProcessInstanceCompleted, engine.get(t, instance.Key).State)
	assert.Contains(t, engine.completed(instance.Key), "done")
}

func TestBusinessCalendarTimerSkipsWeekend(t *testing.T) {
	// given
	friday := time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)
	engine := newTestEngineAt(t, friday)
	engine.load(t, "business-calendar-timer.yaml")
	instance := engine.start(t, "business-calendar-timer", nil)

	// when
	fired, err := engine.AdvanceClock(t.Context(), 48*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, fired)
	fired, err = engine.AdvanceClock(t.Context(), 24*time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, runtime.ProcessInstanceCompleted, engine.get(t, instance.Key).State)
}

func TestTimerStartEventCreatesInstances(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "timer-start.yaml")
	assert.Empty(t, engine.ProcessInstances())

	// when
	fired, err := engine.AdvanceClock(t.Context(), time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	require.Len(t, engine.ProcessInstances(), 1)

	// when
	fired, err = engine.AdvanceClock(t.Context(), 5*time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
	instances := engine.ProcessInstances()
	assert.Len(t, instances, 3)
	for _, instance := range instances {
		assert.Equal(t, "timer-start", instance.DefinitionId)
		assert.Len(t, engine.ActiveWorkItems(instance.Key), 1)
	}
}

func TestAdvanceClockNeedsPseudoClock(t *testing.T) {
	// given
	engine, err := NewEngine()
	require.NoError(t, err)
	t.Cleanup(engine.Dispose)

	// when
	_, err = engine.AdvanceClock(t.Context(), time.Second)

	// then
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestSuspendedInstanceHoldsTimers(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.load(t, "boundary-timer.yaml")
	instance := engine.start(t, "boundary-timer", nil)
	item := engine.onlyWorkItem(t, instance.Key)
	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))

	// when
	fired, err := engine.AdvanceClock(t.Context(), 2*time.Hour)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	suspended := engine.get(t, instance.Key)
	assert.True(t, suspended.Suspended)
	assert.Equal(t, runtime.ProcessInstanceActive, suspended.State)
	review := suspended.FindNodeInstancesByElementId("review")
	require.Len(t, review, 1)
	assert.Equal(t, runtime.NodeSuspended, review[0].State)
	assert.Len(t, review[0].HeldTimers, 1)
	assert.ErrorIs(t, engine.CompleteWorkItem(t.Context(), item.Key, nil), ErrNodeInstanceSuspended)

	// when
	err = engine.ResumeProcessInstance(t.Context(), instance.Key)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceCompleted, engine.get(t, instance.Key).State)
	assert.Contains(t, engine.completed(instance.Key), "timedOut")
	assert.NotContains(t, engine.completed(instance.Key), "done")
}
