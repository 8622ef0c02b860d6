package bpmn

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WorkItemHandler executes the work items of one type on behalf of the engine.
type WorkItemHandler interface {
	// Execute is called when a task creates a work item. The handler may complete the item right away
	// through manager, or keep it and complete it later through the engine.
	Execute(ctx context.Context, item runtime.WorkItem, manager WorkItemManager) error
	// Abort is called when the task owning the item is cancelled.
	Abort(ctx context.Context, item runtime.WorkItem, manager WorkItemManager)
}

// WorkItemManager resolves work items. The engine implements it, handlers receive one
// that joins the running traversal while Execute has not returned yet.
type WorkItemManager interface {
	CompleteWorkItem(ctx context.Context, workItemKey int64, results map[string]any) error
	AbortWorkItem(ctx context.Context, workItemKey int64) error
	FailWorkItem(ctx context.Context, workItemKey int64, errorCode string, message string) error
}

var _ WorkItemManager = (*Engine)(nil)

// WorkItemHandlerFunc turns a function into a handler that ignores aborts.
type WorkItemHandlerFunc func(ctx context.Context, item runtime.WorkItem, manager WorkItemManager) error

func (f WorkItemHandlerFunc) Execute(ctx context.Context, item runtime.WorkItem, manager WorkItemManager) error {
	return f(ctx, item, manager)
}

func (f WorkItemHandlerFunc) Abort(context.Context, runtime.WorkItem, WorkItemManager) {}

// queuedManager is handed to handlers during dispatch. Until it is closed calls are appended to the
// work-list of the running traversal, afterwards they go through the engine like any other caller.
type queuedManager struct {
	engine *Engine
	open   atomic.Bool
}

func newQueuedManager(engine *Engine) *queuedManager {
	m := &queuedManager{engine: engine}
	m.open.Store(true)
	return m
}

func (m *queuedManager) close() {
	m.open.Store(false)
}

func (m *queuedManager) CompleteWorkItem(ctx context.Context, workItemKey int64, results map[string]any) error {
	if !m.open.Load() {
		return m.engine.CompleteWorkItem(ctx, workItemKey, results)
	}
	if _, ok := m.engine.findWorkItem(workItemKey); !ok {
		return fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	m.engine.queue = append(m.engine.queue, completeWorkItemCommand{workItemKey: workItemKey, results: results})
	return nil
}

func (m *queuedManager) AbortWorkItem(ctx context.Context, workItemKey int64) error {
	if !m.open.Load() {
		return m.engine.AbortWorkItem(ctx, workItemKey)
	}
	if _, ok := m.engine.findWorkItem(workItemKey); !ok {
		return fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	m.engine.queue = append(m.engine.queue, abortWorkItemCommand{workItemKey: workItemKey})
	return nil
}

func (m *queuedManager) FailWorkItem(ctx context.Context, workItemKey int64, errorCode string, message string) error {
	if !m.open.Load() {
		return m.engine.FailWorkItem(ctx, workItemKey, errorCode, message)
	}
	if _, ok := m.engine.findWorkItem(workItemKey); !ok {
		return fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	m.engine.queue = append(m.engine.queue, failWorkItemCommand{workItemKey: workItemKey, errorCode: errorCode, message: message})
	return nil
}

// RegisterWorkItemHandler replaces the handler for the work item type.
func (engine *Engine) RegisterWorkItemHandler(workItemType string, handler WorkItemHandler) {
	engine.handlersMu.Lock()
	defer engine.handlersMu.Unlock()
	engine.handlers[workItemType] = handler
}

func (engine *Engine) RemoveWorkItemHandler(workItemType string) {
	engine.handlersMu.Lock()
	defer engine.handlersMu.Unlock()
	delete(engine.handlers, workItemType)
}

func (engine *Engine) handler(workItemType string) (WorkItemHandler, bool) {
	engine.handlersMu.RLock()
	defer engine.handlersMu.RUnlock()
	handler, ok := engine.handlers[workItemType]
	return handler, ok
}

// GetWorkItem returns a copy of an active work item.
func (engine *Engine) GetWorkItem(workItemKey int64) (runtime.WorkItem, error) {
	item, ok := engine.findWorkItem(workItemKey)
	if !ok {
		return runtime.WorkItem{}, fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	return item, nil
}

// ActiveWorkItems returns the active work items of a process instance ordered by creation.
func (engine *Engine) ActiveWorkItems(processInstanceKey int64) []runtime.WorkItem {
	engine.workItemsMu.RLock()
	defer engine.workItemsMu.RUnlock()
	var result []runtime.WorkItem
	for _, item := range engine.workItems {
		if item.ProcessInstanceKey == processInstanceKey {
			result = append(result, copyWorkItem(item))
		}
	}
	slices.SortFunc(result, func(a, b runtime.WorkItem) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Key, b.Key))
	})
	return result
}

func copyWorkItem(item *runtime.WorkItem) runtime.WorkItem {
	cp := *item
	cp.Parameters = maps.Clone(item.Parameters)
	cp.Results = maps.Clone(item.Results)
	return cp
}

func (engine *Engine) findWorkItem(workItemKey int64) (runtime.WorkItem, bool) {
	engine.workItemsMu.RLock()
	defer engine.workItemsMu.RUnlock()
	item, ok := engine.workItems[workItemKey]
	if !ok {
		return runtime.WorkItem{}, false
	}
	return copyWorkItem(item), true
}

func (engine *Engine) putWorkItem(item *runtime.WorkItem) {
	engine.workItemsMu.Lock()
	defer engine.workItemsMu.Unlock()
	engine.workItems[item.Key] = item
}

func (engine *Engine) removeWorkItem(workItemKey int64) (*runtime.WorkItem, bool) {
	engine.workItemsMu.Lock()
	defer engine.workItemsMu.Unlock()
	item, ok := engine.workItems[workItemKey]
	if ok {
		delete(engine.workItems, workItemKey)
	}
	return item, ok
}

// createWorkItem hands a task to the handler registered for its work item type.
func (engine *Engine) createWorkItem(ctx context.Context, instance *runtime.ProcessInstance, definition *model.ProcessDefinition, task *model.Task, ni *runtime.NodeInstance) (retErr error) {
	workItemType := task.HandlerType()
	handler, ok := engine.handler(workItemType)
	if !ok {
		return &WorkItemHandlerMissingError{WorkItemType: workItemType}
	}
	var parameters map[string]any
	if len(task.Inputs) > 0 {
		parameters = maps.Clone(ni.Variables)
	} else {
		parameters = holderOf(instance, ni).Variables()
	}
	item := &runtime.WorkItem{
		Key:                engine.generateKey(),
		ProcessInstanceKey: instance.Key,
		NodeInstanceKey:    ni.Key,
		ElementId:          task.Id,
		Name:               task.Name,
		Type:               workItemType,
		Parameters:         parameters,
		State:              runtime.WorkItemActive,
		CreatedAt:          engine.clock.Now(),
	}
	ni.WorkItemKey = item.Key
	engine.putWorkItem(item)
	engine.touch(instance)

	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("work-item:%s", workItemType), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, instance.Key),
		attribute.Int64(otelPkg.AttributeWorkItemKey, item.Key),
		attribute.String(otelPkg.AttributeWorkItemType, workItemType),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()
	engine.metrics.WorkItemsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeWorkItemType, workItemType)))

	manager := newQueuedManager(engine)
	err := handler.Execute(ctx, copyWorkItem(item), manager)
	manager.close()
	if err != nil {
		return fmt.Errorf("work item handler %q failed: %w", workItemType, err)
	}
	return nil
}

// workItemContext resolves the process and node instance waiting for the work item.
func (engine *Engine) workItemContext(workItemKey int64) (*runtime.ProcessInstance, *runtime.NodeInstance, error) {
	item, ok := engine.findWorkItem(workItemKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	instance, ok := engine.instances[item.ProcessInstanceKey]
	if !ok || instance.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: %d", ErrProcessInstanceNotFound, item.ProcessInstanceKey)
	}
	ni := instance.FindNodeInstance(item.NodeInstanceKey)
	if ni == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrWorkItemNotFound, workItemKey)
	}
	if instance.Suspended || ni.State == runtime.NodeSuspended {
		return nil, nil, ErrNodeInstanceSuspended
	}
	return instance, ni, nil
}

func (engine *Engine) completeWorkItem(ctx context.Context, workItemKey int64, results map[string]any) error {
	instance, ni, err := engine.workItemContext(workItemKey)
	if err != nil {
		return err
	}
	item, _ := engine.removeWorkItem(workItemKey)
	item.State = runtime.WorkItemCompleted
	item.Results = results
	ni.WorkItemKey = 0
	engine.metrics.WorkItemsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeWorkItemType, item.Type)))

	if err := engine.resumeTask(ctx, instance, ni, results); err != nil {
		engine.fail(ctx, instance, ni.ElementId, err)
	}
	return nil
}

// abortWorkItem drops the work item, the task continues without results.
func (engine *Engine) abortWorkItem(ctx context.Context, workItemKey int64) error {
	instance, ni, err := engine.workItemContext(workItemKey)
	if err != nil {
		return err
	}
	item, _ := engine.removeWorkItem(workItemKey)
	item.State = runtime.WorkItemAborted
	ni.WorkItemKey = 0
	engine.metrics.WorkItemsAborted.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeWorkItemType, item.Type)))

	if err := engine.resumeTask(ctx, instance, ni, nil); err != nil {
		engine.fail(ctx, instance, ni.ElementId, err)
	}
	return nil
}

// failWorkItem drops the work item and raises a BPMN error with the code on its task.
func (engine *Engine) failWorkItem(ctx context.Context, workItemKey int64, errorCode string, message string) error {
	instance, ni, err := engine.workItemContext(workItemKey)
	if err != nil {
		return err
	}
	item, _ := engine.removeWorkItem(workItemKey)
	item.State = runtime.WorkItemAborted
	ni.WorkItemKey = 0
	engine.metrics.WorkItemsAborted.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeWorkItemType, item.Type)))
	engine.logger.Debug("work item failed", "key", workItemKey, "code", errorCode, "message", message)

	if err := engine.propagate(ctx, instance, ni, ni.ElementId, model.TriggerError, errorCode, message); err != nil {
		engine.fail(ctx, instance, ni.ElementId, err)
	}
	return nil
}

func (engine *Engine) resumeTask(ctx context.Context, instance *runtime.ProcessInstance, ni *runtime.NodeInstance, results map[string]any) error {
	definition, err := engine.definitionOf(instance)
	if err != nil {
		return err
	}
	node, ok := definition.FindNode(ni.ElementId)
	if !ok {
		return model.NewDefinitionError(definition.Id, ni.ElementId, "element does not exist")
	}
	if activity, ok := node.(model.Activity); ok && results != nil {
		if err := engine.applyOutputs(instance, definition, activity, ni, results); err != nil {
			return err
		}
	}
	return engine.leave(ctx, instance, ni)
}

// abortWorkItemOf drops the work item of a cancelled task and tells its handler.
func (engine *Engine) abortWorkItemOf(ctx context.Context, workItemKey int64) {
	item, ok := engine.removeWorkItem(workItemKey)
	if !ok {
		return
	}
	item.State = runtime.WorkItemAborted
	engine.metrics.WorkItemsAborted.Add(ctx, 1, metric.WithAttributes(attribute.String(otelPkg.AttributeWorkItemType, item.Type)))
	handler, ok := engine.handler(item.Type)
	if !ok {
		return
	}
	manager := newQueuedManager(engine)
	handler.Abort(ctx, copyWorkItem(item), manager)
	manager.close()
}
