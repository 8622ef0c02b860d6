package bpmn

import (
	"context"
	"maps"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// activateCallActivity starts the latest version of the called process as a child instance.
// With input mappings the child receives only the mapped variables, otherwise everything visible.
func (engine *Engine) activateCallActivity(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, call *model.SubProcess, ni *runtime.NodeInstance) error {
	called, ok := engine.latestDefinition(call.CalledElement)
	if !ok {
		return newEngineErrorf("call activity %s references process %s which is not deployed", call.Id, call.CalledElement)
	}
	var variables map[string]any
	if len(call.Inputs) > 0 {
		variables = maps.Clone(ni.Variables)
	} else {
		variables = holderOf(instance, ni).Variables()
	}
	child, err := engine.startInstance(ctx, called, variables, instance, ni)
	if err != nil {
		return err
	}
	ni.CalledInstanceKey = child.Key
	engine.touch(instance)
	return nil
}

// childEnded resumes the call activity after its called instance ended. A completed child
// hands its variables back, an aborted one raises an error on the call activity.
func (engine *Engine) childEnded(ctx context.Context, child *runtime.ProcessInstance) error {
	parent, ok := engine.instances[child.ParentInstanceKey]
	if !ok || parent.IsTerminal() {
		return nil
	}
	ni := parent.FindNodeInstance(child.ParentNodeInstanceKey)
	if ni == nil || ni.State != runtime.NodeActive || ni.CalledInstanceKey != child.Key {
		return nil
	}
	definition, err := engine.definitionOf(parent)
	if err != nil {
		return err
	}
	if child.State == runtime.ProcessInstanceAborted {
		if err := engine.propagate(ctx, parent, ni, ni.ElementId, model.TriggerError, "", nil); err != nil {
			engine.fail(ctx, parent, ni.ElementId, err)
		}
		return nil
	}
	node, ok := definition.FindNode(ni.ElementId)
	if !ok {
		return model.NewDefinitionError(definition.Id, ni.ElementId, "element does not exist")
	}
	call := node.(*model.SubProcess)
	if err := engine.applyOutputs(parent, definition, call, ni, maps.Clone(child.Variables)); err != nil {
		engine.fail(ctx, parent, ni.ElementId, err)
		return nil
	}
	if err := engine.leave(ctx, parent, ni); err != nil {
		engine.fail(ctx, parent, ni.ElementId, err)
	}
	return nil
}
