package bpmn

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// exec runs op under the traversal lock and keeps processing the work-list it produced
// until nothing is left. Changed instances are published to readers before it returns.
func (engine *Engine) exec(ctx context.Context, op func(ctx context.Context) error) error {
	if engine.disposed.Load() {
		return ErrEngineDisposed
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()

	opErr := op(ctx)
	engine.drain(ctx)
	engine.evaluateConditions(ctx)

	errs := append([]error{opErr}, engine.errs...)
	engine.errs = nil
	errs = append(errs, engine.publish(ctx))
	return errors.Join(errs...)
}

func (engine *Engine) drain(ctx context.Context) {
	for len(engine.queue) > 0 {
		cmd := engine.queue[0]
		engine.queue = engine.queue[1:]
		engine.handle(ctx, cmd)
	}
}

func (engine *Engine) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case enterCommand:
		if c.instance.IsTerminal() || !engine.scopeIsLive(c.instance, c.scopeKey) {
			return
		}
		if err := engine.enter(ctx, c.instance, c.scopeKey, c.elementId, c.flowId); err != nil {
			engine.fail(ctx, c.instance, c.elementId, err)
		}
	case activateCommand:
		if c.instance.IsTerminal() || c.nodeInstance.State != runtime.NodeReady {
			return
		}
		if err := engine.activate(ctx, c.instance, c.nodeInstance); err != nil {
			engine.fail(ctx, c.instance, c.nodeInstance.ElementId, err)
		}
	case checkScopeCommand:
		if c.instance.IsTerminal() {
			return
		}
		if err := engine.checkScope(ctx, c.instance, c.scopeKey); err != nil {
			engine.fail(ctx, c.instance, "", err)
		}
	case compensationDoneCommand:
		if c.instance.IsTerminal() || !c.nodeInstance.IsLive() {
			return
		}
		if err := engine.leave(ctx, c.instance, c.nodeInstance); err != nil {
			engine.fail(ctx, c.instance, c.nodeInstance.ElementId, err)
		}
	case completeWorkItemCommand:
		if err := engine.completeWorkItem(ctx, c.workItemKey, c.results); err != nil {
			engine.errs = append(engine.errs, err)
		}
	case abortWorkItemCommand:
		if err := engine.abortWorkItem(ctx, c.workItemKey); err != nil {
			engine.errs = append(engine.errs, err)
		}
	case failWorkItemCommand:
		if err := engine.failWorkItem(ctx, c.workItemKey, c.errorCode, c.message); err != nil {
			engine.errs = append(engine.errs, err)
		}
	case childEndedCommand:
		if err := engine.childEnded(ctx, c.child); err != nil {
			engine.errs = append(engine.errs, err)
		}
	default:
		engine.logger.Error("unknown command", "type", fmt.Sprintf("%T", cmd))
	}
}

// fail handles a technical error: the root instance gets an incident and is aborted,
// the error is returned to the caller of the running operation.
func (engine *Engine) fail(ctx context.Context, instance *runtime.ProcessInstance, elementId string, err error) {
	runtimeErr := &RuntimeError{ProcessInstanceKey: instance.Key, ElementId: elementId, Err: err}
	engine.errs = append(engine.errs, runtimeErr)
	engine.logger.Error("process instance failed", "key", instance.Key, "element", elementId, "err", err)

	root := engine.rootOf(instance)
	engine.raiseIncident(ctx, root, elementId, "", err.Error())
	engine.abortInstance(ctx, root)
}

// touch marks the instance to be published at the end of the running operation.
func (engine *Engine) touch(instance *runtime.ProcessInstance) {
	engine.dirty[instance.Key] = instance
}

func (engine *Engine) rootOf(instance *runtime.ProcessInstance) *runtime.ProcessInstance {
	for instance.ParentInstanceKey != 0 {
		parent, ok := engine.instances[instance.ParentInstanceKey]
		if !ok {
			break
		}
		instance = parent
	}
	return instance
}

// familyOf returns the instance followed by every instance it called, directly or not.
func (engine *Engine) familyOf(instance *runtime.ProcessInstance) []int64 {
	keys := []int64{instance.Key}
	for i := 0; i < len(keys); i++ {
		current, ok := engine.instances[keys[i]]
		if !ok {
			continue
		}
		for _, ni := range current.NodeInstances {
			if ni.CalledInstanceKey != 0 {
				keys = append(keys, ni.CalledInstanceKey)
			}
		}
	}
	return keys
}

func (engine *Engine) scopeIsLive(instance *runtime.ProcessInstance, scopeKey int64) bool {
	if scopeKey == 0 {
		return true
	}
	scope := instance.FindNodeInstance(scopeKey)
	return scope != nil && scope.IsLive()
}

// pendingEnter reports whether a token is on its way into the scope.
func (engine *Engine) pendingEnter(instance *runtime.ProcessInstance, scopeKey int64) bool {
	for _, cmd := range engine.queue {
		if enter, ok := cmd.(enterCommand); ok && enter.instance == instance && enter.scopeKey == scopeKey {
			return true
		}
	}
	return false
}

func (engine *Engine) dropPendingEnters(instance *runtime.ProcessInstance, scopeKey int64) {
	kept := engine.queue[:0]
	for _, cmd := range engine.queue {
		if enter, ok := cmd.(enterCommand); ok && enter.instance == instance && enter.scopeKey == scopeKey {
			continue
		}
		kept = append(kept, cmd)
	}
	engine.queue = kept
}

func (engine *Engine) definitionOf(instance *runtime.ProcessInstance) (*model.ProcessDefinition, error) {
	definition, ok := engine.findDefinition(instance.DefinitionId, instance.DefinitionVersion)
	if !ok {
		return nil, newEngineErrorf("process definition %s version %d is not deployed", instance.DefinitionId, instance.DefinitionVersion)
	}
	return definition, nil
}

// findNodeInstance looks up a live node instance in all running instances.
func (engine *Engine) findNodeInstance(key int64) (*runtime.ProcessInstance, *runtime.NodeInstance) {
	for _, instance := range engine.instances {
		if ni := instance.FindNodeInstance(key); ni != nil {
			return instance, ni
		}
	}
	return nil, nil
}

// publish copies changed instances into the read views, moves ended ones into the archive
// and writes snapshots through to the storage.
func (engine *Engine) publish(ctx context.Context) error {
	var errs []error
	for key, instance := range engine.dirty {
		view := instance.Clone()
		engine.viewMu.Lock()
		if instance.IsTerminal() {
			delete(engine.views, key)
			engine.archive.Add(key, view)
		} else {
			engine.views[key] = view
		}
		engine.viewMu.Unlock()
		if instance.IsTerminal() {
			delete(engine.instances, key)
		}
		if err := engine.persist(ctx, instance); err != nil {
			errs = append(errs, err)
		}
	}
	clear(engine.dirty)
	return errors.Join(errs...)
}
