package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesStarted   metric.Int64Counter
	ProcessesEnded     metric.Int64Counter
	ProcessesAborted   metric.Int64Counter
	ProcessesRunning   metric.Int64UpDownCounter
	WorkItemsCreated   metric.Int64Counter
	WorkItemsCompleted metric.Int64Counter
	WorkItemsAborted   metric.Int64Counter
	TimersFired        metric.Int64Counter
	EventsDelivered    metric.Int64Counter
	Incidents          metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesAbortedTotal, err := meter.Int64Counter("processes_aborted", metric.WithDescription("Number of processes aborted"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	workItemsCreated, err := meter.Int64Counter("work_items_created", metric.WithDescription("Number of work items created"))
	errJoin = errors.Join(errJoin, err)

	workItemsCompleted, err := meter.Int64Counter("work_items_completed", metric.WithDescription("Number of work items completed"))
	errJoin = errors.Join(errJoin, err)

	workItemsAborted, err := meter.Int64Counter("work_items_aborted", metric.WithDescription("Number of work items aborted"))
	errJoin = errors.Join(errJoin, err)

	timersFired, err := meter.Int64Counter("timers_fired", metric.WithDescription("Number of timer fires"))
	errJoin = errors.Join(errJoin, err)

	eventsDelivered, err := meter.Int64Counter("events_delivered", metric.WithDescription("Number of signals and messages delivered to a waiting node"))
	errJoin = errors.Join(errJoin, err)

	incidents, err := meter.Int64Counter("incidents", metric.WithDescription("Number of incidents raised"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted:   processesStartedTotal,
		ProcessesEnded:     processesCompletedTotal,
		ProcessesAborted:   processesAbortedTotal,
		ProcessesRunning:   processesRunning,
		WorkItemsCreated:   workItemsCreated,
		WorkItemsCompleted: workItemsCompleted,
		WorkItemsAborted:   workItemsAborted,
		TimersFired:        timersFired,
		EventsDelivered:    eventsDelivered,
		Incidents:          incidents,
	}
	return &metrics, errJoin
}
