package bpmn

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartProcessInstance creates an instance of the latest version of the process and runs it
// until it waits or ends. The returned instance is a snapshot taken when the run settled, it is
// returned together with the error when the instance failed.
func (engine *Engine) StartProcessInstance(ctx context.Context, processId string, variables map[string]any) (_ *runtime.ProcessInstance, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("start-instance:%s", processId), trace.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, processId),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	definition, ok := engine.latestDefinition(processId)
	if !ok {
		return nil, newEngineErrorf("no process with id=%s was deployed", processId)
	}
	var key int64
	err := engine.exec(ctx, func(ctx context.Context) error {
		instance, err := engine.startInstance(ctx, definition, variables, nil, nil)
		if instance != nil {
			key = instance.Key
		}
		return err
	})
	if key == 0 {
		return nil, err
	}
	span.SetAttributes(attribute.Int64(otelPkg.AttributeProcessInstanceKey, key))
	instance, getErr := engine.GetProcessInstance(ctx, key)
	if getErr != nil {
		return nil, cmp.Or(err, getErr)
	}
	return instance, err
}

// startInstance creates an instance and queues its none start events.
func (engine *Engine) startInstance(ctx context.Context, definition *model.ProcessDefinition, variables map[string]any, parent *runtime.ProcessInstance, parentNi *runtime.NodeInstance) (*runtime.ProcessInstance, error) {
	var starts []*model.StartEvent
	for _, start := range definition.StartEvents(definition) {
		if start.Event.Trigger == model.TriggerNone {
			starts = append(starts, start)
		}
	}
	if len(starts) == 0 && !definition.AdHoc {
		return nil, model.NewDefinitionError(definition.Id, "", "process has no none start event")
	}
	instance := engine.createInstance(ctx, definition, variables, parent, parentNi)
	for _, start := range starts {
		ni := engine.newNodeInstance(instance, 0, start.Id, "")
		engine.queue = append(engine.queue, activateCommand{instance: instance, nodeInstance: ni})
	}
	return instance, nil
}

func (engine *Engine) createInstance(ctx context.Context, definition *model.ProcessDefinition, variables map[string]any, parent *runtime.ProcessInstance, parentNi *runtime.NodeInstance) *runtime.ProcessInstance {
	instance := &runtime.ProcessInstance{
		Key:               engine.generateKey(),
		DefinitionId:      definition.Id,
		DefinitionVersion: definition.Version,
		State:             runtime.ProcessInstanceActive,
		Variables:         map[string]any{},
		CreatedAt:         engine.clock.Now(),
	}
	for name, value := range variables {
		instance.Variables[name] = engine.coerce(definition, "", name, value)
	}
	for _, declaration := range definition.Variables {
		if _, ok := instance.Variables[declaration.Name]; !ok {
			instance.Variables[declaration.Name] = nil
		}
	}
	if parent != nil {
		instance.ParentInstanceKey = parent.Key
		instance.ParentNodeInstanceKey = parentNi.Key
	}
	engine.instances[instance.Key] = instance
	engine.touch(instance)
	engine.exportProcessInstanceEvent(instance)
	engine.metrics.ProcessesStarted.Add(ctx, 1, otelMetricAttributes(instance))
	engine.metrics.ProcessesRunning.Add(ctx, 1, otelMetricAttributes(instance))
	engine.logger.Debug("process instance created", "key", instance.Key, "process", definition.Id, "version", definition.Version)
	if definition.AdHoc {
		engine.registerAdHocChildren(instance, definition, definition, nil)
	}
	return instance
}

// SignalEvent delivers a signal to every instance and start event waiting for the key.
func (engine *Engine) SignalEvent(ctx context.Context, key string, payload any) (delivered bool, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("signal:%s", key), trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventKey, key),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()
	err := engine.exec(ctx, func(ctx context.Context) error {
		delivered = engine.bus.Fire(key, correlation.Global(), correlation.Payload{Data: payload}, engine.deliverFunc(ctx))
		return nil
	})
	return delivered, err
}

// SignalProcessInstance delivers a signal to one instance and the instances it called.
// Ad-hoc fragments named like the signal are activated as well. Signalling an ended instance does nothing.
func (engine *Engine) SignalProcessInstance(ctx context.Context, processInstanceKey int64, key string, payload any) (delivered bool, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("signal:%s", key), trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventKey, key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()
	err := engine.exec(ctx, func(ctx context.Context) error {
		instance, err := engine.liveInstance(processInstanceKey)
		if err != nil || instance == nil {
			return err
		}
		scope := correlation.ForProcessInstances(engine.familyOf(instance)...)
		delivered = engine.bus.Fire(key, scope, correlation.Payload{Data: payload}, engine.deliverFunc(ctx))
		if engine.bus.Fire(model.AdHocEventKey(key), scope, correlation.Payload{Data: payload}, engine.deliverFunc(ctx)) {
			delivered = true
		}
		return nil
	})
	return delivered, err
}

// PublishMessage delivers a message to the first subscription with a matching correlation value.
// Waiting instances are served before message start events.
func (engine *Engine) PublishMessage(ctx context.Context, name string, correlationValue string, data any) (delivered bool, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("message:%s", name), trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventKey, model.MessageEventKey(name)),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()
	err := engine.exec(ctx, func(ctx context.Context) error {
		delivered = engine.publishMessage(ctx, name, correlationValue, data)
		return nil
	})
	return delivered, err
}

// CompleteWorkItem finishes a work item, its results are mapped into the task and the task continues.
func (engine *Engine) CompleteWorkItem(ctx context.Context, workItemKey int64, results map[string]any) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		return engine.completeWorkItem(ctx, workItemKey, results)
	})
}

// AbortWorkItem drops a work item, its task continues without results.
func (engine *Engine) AbortWorkItem(ctx context.Context, workItemKey int64) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		return engine.abortWorkItem(ctx, workItemKey)
	})
}

// FailWorkItem drops a work item and throws a BPMN error with errorCode from its task.
func (engine *Engine) FailWorkItem(ctx context.Context, workItemKey int64, errorCode string, message string) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		return engine.failWorkItem(ctx, workItemKey, errorCode, message)
	})
}

// AbortProcessInstance cancels every node instance of a running instance. Aborting an ended instance does nothing.
func (engine *Engine) AbortProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		instance, err := engine.liveInstance(processInstanceKey)
		if err != nil || instance == nil {
			return err
		}
		engine.abortInstance(ctx, instance)
		return nil
	})
}

// SetVariable writes a process level variable, conditional events are evaluated afterwards.
func (engine *Engine) SetVariable(ctx context.Context, processInstanceKey int64, name string, value any) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		instance, err := engine.liveInstance(processInstanceKey)
		if err != nil {
			return err
		}
		if instance == nil {
			return newEngineErrorf("process instance %d has already ended", processInstanceKey)
		}
		definition, err := engine.definitionOf(instance)
		if err != nil {
			return err
		}
		instance.Variables[name] = engine.coerce(definition, "", name, value)
		engine.touch(instance)
		return nil
	})
}

// SuspendProcessInstance stops an instance and the instances it called from reacting to events.
// Timer fires are held until the instance is resumed.
func (engine *Engine) SuspendProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		instance, err := engine.liveInstance(processInstanceKey)
		if err != nil {
			return err
		}
		if instance == nil {
			return newEngineErrorf("process instance %d has already ended", processInstanceKey)
		}
		for _, key := range engine.familyOf(instance) {
			member := engine.instances[key]
			member.Suspended = true
			for _, ni := range member.NodeInstances {
				if ni.State == runtime.NodeActive {
					ni.State = runtime.NodeSuspended
				}
			}
			engine.touch(member)
		}
		engine.logger.Debug("process instance suspended", "key", processInstanceKey)
		return nil
	})
}

// ResumeProcessInstance reactivates a suspended instance and replays the timer fires it missed.
func (engine *Engine) ResumeProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return engine.exec(ctx, func(ctx context.Context) error {
		instance, err := engine.liveInstance(processInstanceKey)
		if err != nil {
			return err
		}
		if instance == nil {
			return newEngineErrorf("process instance %d has already ended", processInstanceKey)
		}
		family := engine.familyOf(instance)
		for _, key := range family {
			member := engine.instances[key]
			member.Suspended = false
			for _, ni := range member.NodeInstances {
				if ni.State == runtime.NodeSuspended {
					ni.State = runtime.NodeActive
				}
			}
			engine.touch(member)
		}
		for _, key := range family {
			if member, ok := engine.instances[key]; ok && !member.IsTerminal() {
				engine.replayHeldTimers(ctx, member)
			}
		}
		engine.logger.Debug("process instance resumed", "key", processInstanceKey)
		return nil
	})
}

// liveInstance returns the running instance with the key, nil without error when it already ended.
func (engine *Engine) liveInstance(processInstanceKey int64) (*runtime.ProcessInstance, error) {
	if instance, ok := engine.instances[processInstanceKey]; ok {
		if instance.IsTerminal() {
			return nil, nil
		}
		return instance, nil
	}
	if _, ok := engine.archive.Get(processInstanceKey); ok {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrProcessInstanceNotFound, processInstanceKey)
}

// GetProcessInstance returns a copy of the instance as it was when the last operation settled.
// Ended instances stay readable while they are in the archive, or in the storage when one is configured.
func (engine *Engine) GetProcessInstance(ctx context.Context, processInstanceKey int64) (*runtime.ProcessInstance, error) {
	engine.viewMu.RLock()
	view, ok := engine.views[processInstanceKey]
	engine.viewMu.RUnlock()
	if ok {
		return view.Clone(), nil
	}
	if archived, ok := engine.archive.Get(processInstanceKey); ok {
		return archived.Clone(), nil
	}
	if engine.persistence != nil {
		record, err := engine.persistence.FindProcessInstance(ctx, processInstanceKey)
		if err == nil {
			snapshot, err := decodeSnapshot(record.Snapshot)
			if err != nil {
				return nil, err
			}
			return snapshot.Instances[0].Instance, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrProcessInstanceNotFound, processInstanceKey)
}

// ProcessInstances returns the running instances ordered by key.
func (engine *Engine) ProcessInstances() []*runtime.ProcessInstance {
	engine.viewMu.RLock()
	defer engine.viewMu.RUnlock()
	keys := slices.Sorted(maps.Keys(engine.views))
	result := make([]*runtime.ProcessInstance, 0, len(keys))
	for _, key := range keys {
		result = append(result, engine.views[key].Clone())
	}
	return result
}
