package bpmn

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// propagate looks for a boundary event catching an error or escalation. The search starts at current,
// the node instance of the activity the event was raised in, and walks up through the enclosing
// sub processes and call activities. A nil current starts at the process level.
// Nothing catching the event aborts the root instance with an incident.
func (engine *Engine) propagate(ctx context.Context, instance *runtime.ProcessInstance, current *runtime.NodeInstance, originId string, trigger model.TriggerType, code string, data any) error {
	for {
		definition, err := engine.definitionOf(instance)
		if err != nil {
			return err
		}
		if current != nil {
			if current.IsMultiInstanceChild() {
				body := instance.FindNodeInstance(current.ScopeKey)
				if body == nil {
					current = nil
					continue
				}
				if trigger == model.TriggerError && !abortsOnChildFailure(definition, body.ElementId) {
					engine.cancelNode(ctx, instance, definition, current)
					return engine.multiInstanceChildDone(ctx, instance, definition, current, false)
				}
				current = body
				continue
			}
			if boundary := matchingBoundary(definition, current.ElementId, trigger, code); boundary != nil {
				engine.logger.Debug("event caught by boundary", "trigger", trigger, "code", code, "boundary", boundary.Id)
				return engine.triggerBoundary(ctx, instance, definition, current, boundary, data)
			}
			if current.ScopeKey != 0 {
				current = instance.FindNodeInstance(current.ScopeKey)
				if current != nil {
					continue
				}
			}
		}
		if instance.ParentInstanceKey != 0 {
			if parent, ok := engine.instances[instance.ParentInstanceKey]; ok && !parent.IsTerminal() {
				if callActivity := parent.FindNodeInstance(instance.ParentNodeInstanceKey); callActivity != nil {
					instance, current = parent, callActivity
					continue
				}
			}
		}

		root := engine.rootOf(instance)
		message := fmt.Sprintf("uncaught %s", trigger)
		if code != "" {
			message = fmt.Sprintf("uncaught %s %s", trigger, code)
		}
		engine.raiseIncident(ctx, root, originId, code, message)
		engine.abortInstance(ctx, root)
		return nil
	}
}

func abortsOnChildFailure(definition *model.ProcessDefinition, activityId string) bool {
	node, ok := definition.FindNode(activityId)
	if !ok {
		return true
	}
	activity, ok := node.(model.Activity)
	if !ok || activity.GetMultiInstance() == nil {
		return true
	}
	return activity.GetMultiInstance().AbortOnChildFailure
}

// matchingBoundary prefers a boundary naming the code over a catch-all one.
func matchingBoundary(definition *model.ProcessDefinition, activityId string, trigger model.TriggerType, code string) *model.BoundaryEvent {
	var catchAll *model.BoundaryEvent
	for _, boundary := range definition.BoundaryEvents(activityId) {
		if boundary.Event.Trigger != trigger {
			continue
		}
		if boundary.Event.Ref == code {
			return boundary
		}
		if boundary.Event.Ref == "" && catchAll == nil {
			catchAll = boundary
		}
	}
	return catchAll
}

func (engine *Engine) raiseIncident(ctx context.Context, instance *runtime.ProcessInstance, elementId string, code string, message string) {
	incident := runtime.Incident{
		Key:         engine.generateKey(),
		ElementId:   elementId,
		Message:     message,
		Code:        code,
		CreatedAt:   engine.clock.Now(),
		InstanceKey: instance.Key,
	}
	instance.Incidents = append(instance.Incidents, incident)
	engine.touch(instance)
	engine.metrics.Incidents.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, instance.DefinitionId),
		attribute.String(otelPkg.AttributeElementId, elementId),
	))
	engine.logger.Warn("incident raised", "instance", instance.Key, "element", elementId, "code", code, "message", message)
}
