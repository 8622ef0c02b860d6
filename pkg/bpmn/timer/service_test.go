package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/calendar"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2012, 2, 1, 12, 0, 0, 0, time.UTC)

func TestDurationTimerFiresOnce(t *testing.T) {
	// given
	clock := NewPseudoClock(start)
	service := NewService(clock, nil, nil)
	_, err := service.Schedule(runtime.TimerInstance{Key: 1, Kind: KindDuration, Expression: "PT1S"})
	require.NoError(t, err)

	// when
	before := service.Due(clock.Now())
	clock.Advance(time.Second)
	due := service.Due(clock.Now())
	fired, ok := service.Fired(1)

	// then
	assert.Empty(t, before)
	assert.Len(t, due, 1)
	assert.True(t, ok)
	assert.Equal(t, runtime.TimerFired, fired.State)
	assert.Equal(t, 0, service.Len())
}

func TestCycleTimerRepeatsConfiguredTimes(t *testing.T) {
	// given
	clock := NewPseudoClock(start)
	service := NewService(clock, nil, nil)
	_, err := service.Schedule(runtime.TimerInstance{Key: 1, Kind: KindCycle, Expression: "R3/PT1S"})
	require.NoError(t, err)
	fires := 0

	// when
	clock.Advance(10 * time.Second)
	for len(service.Due(clock.Now())) > 0 {
		service.Fired(1)
		fires++
	}

	// then
	assert.Equal(t, 3, fires)
	assert.Equal(t, 0, service.Len())
}

func TestCronTimer(t *testing.T) {
	// given
	clock := NewPseudoClock(start)
	service := NewService(clock, nil, nil)

	// when
	timer, err := service.Schedule(runtime.TimerInstance{Key: 1, Kind: KindCron, Expression: "0 0 13 * * *"})

	// then
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, 2, 1, 13, 0, 0, 0, time.UTC), timer.NextFireAt)
}

func TestBusinessCalendarDuration(t *testing.T) {
	// given
	clock := NewPseudoClock(start)
	service := NewService(clock, calendar.NewWeekly(), nil)

	// when
	timer, err := service.Schedule(runtime.TimerInstance{Key: 1, Kind: KindDuration, Expression: "P3D", BusinessCalendar: true})

	// then
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, 2, 6, 12, 0, 0, 0, time.UTC), timer.NextFireAt)
}

func TestMisconfiguredTimer(t *testing.T) {
	testCases := []runtime.TimerInstance{
		{Key: 1, Kind: KindDuration, Expression: "soon"},
		{Key: 2, Kind: KindCycle, Expression: "Rx/PT1S"},
		{Key: 3, Kind: KindCron, Expression: "every day"},
		{Key: 4, Kind: KindDate, Expression: "tomorrow"},
	}
	for _, tc := range testCases {
		t.Run(tc.Kind, func(t *testing.T) {
			service := NewService(NewPseudoClock(start), nil, nil)
			_, err := service.Schedule(tc)
			var misconfiguration *MisconfigurationError
			assert.True(t, errors.As(err, &misconfiguration))
			assert.Equal(t, 0, service.Len())
		})
	}
}

func TestCancelVariants(t *testing.T) {
	// given
	service := NewService(NewPseudoClock(start), nil, nil)
	for i, timer := range []runtime.TimerInstance{
		{ProcessInstanceKey: 1, NodeInstanceKey: 10},
		{ProcessInstanceKey: 1, NodeInstanceKey: 11},
		{ProcessInstanceKey: 2, NodeInstanceKey: 20},
		{DefinitionId: "def"},
	} {
		timer.Key = int64(i + 1)
		timer.Kind = KindDuration
		timer.Expression = "PT1M"
		_, err := service.Schedule(timer)
		require.NoError(t, err)
	}

	// when
	service.CancelOwnedBy(10)
	assert.Len(t, service.Owned(1), 1)
	service.CancelProcessInstance(1)
	service.CancelDefinition("def")

	// then
	assert.Equal(t, 1, service.Len())
	assert.Len(t, service.Owned(2), 1)
}

func TestRunPollsDueTimers(t *testing.T) {
	// given
	clock := NewPseudoClock(start)
	service := NewService(clock, nil, nil)
	_, err := service.Schedule(runtime.TimerInstance{Key: 1, Kind: KindDuration, Expression: "PT1S"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	// when
	go service.Run(ctx, time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
		service.Fired(1)
	})

	// then
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}
