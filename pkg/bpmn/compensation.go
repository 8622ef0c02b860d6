package bpmn

import (
	"context"
	"maps"
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

func compensationBoundary(definition *model.ProcessDefinition, activityId string) *model.BoundaryEvent {
	for _, boundary := range definition.BoundaryEvents(activityId) {
		if boundary.Event.Trigger == model.TriggerCompensation {
			return boundary
		}
	}
	return nil
}

// logCompensable remembers a completed activity that has a compensation handler.
func (engine *Engine) logCompensable(instance *runtime.ProcessInstance, definition *model.ProcessDefinition, ni *runtime.NodeInstance) {
	if compensationBoundary(definition, ni.ElementId) == nil {
		return
	}
	chain := make([]int64, 0)
	for _, scope := range scopeChain(instance, ni.ScopeKey) {
		chain = append(chain, scope.Key)
	}
	instance.CompletedActivities = append(instance.CompletedActivities, runtime.CompletedActivity{
		ElementId:  ni.ElementId,
		ScopeKey:   ni.ScopeKey,
		ScopeChain: chain,
		Variables:  maps.Clone(ni.Variables),
	})
}

// throwCompensation runs the handlers of the completed activities in reverse completion order.
// An empty ref compensates every activity completed in the scope of the throwing event.
// The throwing node instance waits until all handlers are done.
func (engine *Engine) throwCompensation(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, thrower *runtime.NodeInstance, ref string) error {
	var selected []runtime.CompletedActivity
	var remaining []runtime.CompletedActivity
	for _, activity := range instance.CompletedActivities {
		inScope := activity.ScopeKey == thrower.ScopeKey || slices.Contains(activity.ScopeChain, thrower.ScopeKey)
		if (ref == "" && inScope) || (ref != "" && activity.ElementId == ref) {
			selected = append(selected, activity)
		} else {
			remaining = append(remaining, activity)
		}
	}
	instance.CompletedActivities = remaining
	slices.Reverse(selected)

	var waiting []int64
	for _, activity := range selected {
		boundary := compensationBoundary(definition, activity.ElementId)
		if boundary == nil || boundary.CompensationHandler == "" {
			continue
		}
		scopeKey := activity.ScopeKey
		if !engine.scopeIsLive(instance, scopeKey) {
			scopeKey = thrower.ScopeKey
		}
		caught := engine.newNodeInstance(instance, scopeKey, boundary.Id, "")
		caught.State = runtime.NodeActive
		engine.exportElementEvent(instance, boundary, caught, exporter.ElementActivated)
		engine.completeNode(ctx, instance, definition, caught)

		handler := engine.newNodeInstance(instance, scopeKey, boundary.CompensationHandler, "")
		maps.Copy(handler.Variables, activity.Variables)
		waiting = append(waiting, handler.Key)
		engine.queue = append(engine.queue, activateCommand{instance: instance, nodeInstance: handler})
	}
	engine.touch(instance)
	if len(waiting) == 0 {
		return engine.leave(ctx, instance, thrower)
	}
	thrower.Compensation = &runtime.CompensationState{Waiting: waiting}
	return nil
}

// compensationHandlerDone releases a waiting compensation throw event once its last handler ended.
func (engine *Engine) compensationHandlerDone(instance *runtime.ProcessInstance, handlerKey int64) {
	for _, thrower := range instance.NodeInstances {
		if thrower.Compensation == nil {
			continue
		}
		idx := slices.Index(thrower.Compensation.Waiting, handlerKey)
		if idx < 0 {
			continue
		}
		thrower.Compensation.Waiting = slices.Delete(thrower.Compensation.Waiting, idx, idx+1)
		if len(thrower.Compensation.Waiting) == 0 {
			thrower.Compensation = nil
			engine.queue = append(engine.queue, compensationDoneCommand{instance: instance, nodeInstance: thrower})
		}
		engine.touch(instance)
	}
}
