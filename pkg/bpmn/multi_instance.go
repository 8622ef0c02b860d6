package bpmn

import (
	"context"
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

const loopCounterVariable = "loopCounter"

// activateMultiInstanceBody evaluates the input collection and spawns the children of the body.
// Parallel bodies start every child at once, sequential ones start the next child when the previous one ends.
func (engine *Engine) activateMultiInstanceBody(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, activity model.Activity, body *runtime.NodeInstance) error {
	mi := activity.GetMultiInstance()
	items, err := engine.evaluateCollection(mi.Collection, holderOf(instance, body).Variables())
	if err != nil {
		return err
	}
	body.MultiInstance = &runtime.MultiInstanceState{
		Items:   items,
		Outputs: make([]any, len(items)),
	}
	if err := engine.registerBoundaryEvents(instance, definition, activity.GetId(), body); err != nil {
		return err
	}
	if len(items) == 0 {
		return engine.finishMultiInstance(ctx, instance, definition, mi, body)
	}
	if mi.Sequential {
		engine.spawnMultiInstanceChild(instance, mi, body)
		return nil
	}
	for range items {
		engine.spawnMultiInstanceChild(instance, mi, body)
	}
	return nil
}

func (engine *Engine) spawnMultiInstanceChild(instance *runtime.ProcessInstance, mi *model.MultiInstance, body *runtime.NodeInstance) {
	state := body.MultiInstance
	index := state.Next
	state.Next++
	state.Active++
	child := engine.newNodeInstance(instance, body.Key, body.ElementId, "")
	child.LoopIndex = index + 1
	child.Variables[loopCounterVariable] = int64(index + 1)
	if mi.ElementVariable != "" {
		child.Variables[mi.ElementVariable] = state.Items[index]
	}
	engine.queue = append(engine.queue, activateCommand{instance: instance, nodeInstance: child})
}

// multiInstanceChildDone records the end of a child. completed is false for children that failed
// and were skipped, those leave no output element.
func (engine *Engine) multiInstanceChildDone(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, child *runtime.NodeInstance, completed bool) error {
	body := instance.FindNodeInstance(child.ScopeKey)
	if body == nil || body.MultiInstance == nil || !body.IsLive() {
		return nil
	}
	node, ok := definition.FindNode(body.ElementId)
	if !ok {
		return model.NewDefinitionError(definition.Id, body.ElementId, "element does not exist")
	}
	mi := node.(model.Activity).GetMultiInstance()
	state := body.MultiInstance
	state.Active--
	state.Completed++
	engine.touch(instance)

	if completed && mi.OutputElement != "" {
		value, err := engine.evaluateExpression(mi.OutputElement, holderOf(instance, child).Variables())
		if err != nil {
			return err
		}
		state.Outputs[child.LoopIndex-1] = value
	}

	done := state.Completed >= len(state.Items)
	if !done && mi.CompletionCondition != "" {
		variables := holderOf(instance, body).Variables()
		variables["nrOfInstances"] = int64(len(state.Items))
		variables["nrOfCompletedInstances"] = int64(state.Completed)
		variables["nrOfActiveInstances"] = int64(state.Active)
		satisfied, err := engine.evaluateCondition(mi.CompletionCondition, variables)
		if err != nil {
			return err
		}
		done = satisfied
	}
	if done {
		for _, remaining := range slices.Clone(instance.NodeInstancesIn(body.Key)) {
			engine.cancelNode(ctx, instance, definition, remaining)
		}
		return engine.finishMultiInstance(ctx, instance, definition, mi, body)
	}
	if mi.Sequential && state.Next < len(state.Items) {
		engine.spawnMultiInstanceChild(instance, mi, body)
	}
	return nil
}

// finishMultiInstance publishes the output collection and leaves the body.
func (engine *Engine) finishMultiInstance(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, mi *model.MultiInstance, body *runtime.NodeInstance) error {
	if mi.OutputCollection != "" {
		engine.setVariable(definition, scopeHolder(instance, body.ScopeKey), body.ElementId, mi.OutputCollection, slices.Clone(body.MultiInstance.Outputs))
	}
	return engine.leave(ctx, instance, body)
}
