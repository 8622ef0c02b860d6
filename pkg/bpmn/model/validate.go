package model

import (
	"errors"
	"fmt"
)

// DefinitionError reports a malformed process graph.
type DefinitionError struct {
	DefinitionId string
	ElementId    string
	Msg          string
}

func (e *DefinitionError) Error() string {
	if e.ElementId == "" {
		return fmt.Sprintf("process %s: %s", e.DefinitionId, e.Msg)
	}
	return fmt.Sprintf("process %s, element %s: %s", e.DefinitionId, e.ElementId, e.Msg)
}

func newDefinitionErrorf(definitionId string, elementId string, format string, a ...any) error {
	return &DefinitionError{
		DefinitionId: definitionId,
		ElementId:    elementId,
		Msg:          fmt.Sprintf(format, a...),
	}
}

// NewDefinitionError creates a DefinitionError for an element of the process.
func NewDefinitionError(definitionId string, elementId string, msg string) error {
	return &DefinitionError{DefinitionId: definitionId, ElementId: elementId, Msg: msg}
}

func (d *ProcessDefinition) validate() error {
	if d.Id == "" {
		return newDefinitionErrorf("", "", "process id is missing")
	}
	var errs error
	if !d.AdHoc && len(d.StartEvents(d)) == 0 {
		errs = errors.Join(errs, newDefinitionErrorf(d.Id, "", "process has no start event"))
	}
	for _, flow := range d.flows {
		source, ok := d.nodes[flow.SourceRef]
		if !ok {
			errs = errors.Join(errs, newDefinitionErrorf(d.Id, flow.Id, "source %q does not exist", flow.SourceRef))
			continue
		}
		target, ok := d.nodes[flow.TargetRef]
		if !ok {
			errs = errors.Join(errs, newDefinitionErrorf(d.Id, flow.Id, "target %q does not exist", flow.TargetRef))
			continue
		}
		if d.containers[source.GetId()] != d.containers[target.GetId()] {
			errs = errors.Join(errs, newDefinitionErrorf(d.Id, flow.Id, "flow crosses a sub process boundary"))
		}
		if _, ok := target.(*StartEvent); ok {
			errs = errors.Join(errs, newDefinitionErrorf(d.Id, flow.Id, "start event %q can not have incoming flows", target.GetId()))
		}
		if _, ok := target.(*BoundaryEvent); ok {
			errs = errors.Join(errs, newDefinitionErrorf(d.Id, flow.Id, "boundary event %q can not have incoming flows", target.GetId()))
		}
	}
	for _, node := range d.nodes {
		errs = errors.Join(errs, d.validateNode(node))
	}
	return errs
}

func (d *ProcessDefinition) validateNode(node FlowNode) error {
	var errs error
	fail := func(format string, a ...any) {
		errs = errors.Join(errs, newDefinitionErrorf(d.Id, node.GetId(), format, a...))
	}
	if activity, ok := node.(Activity); ok {
		if mi := activity.GetMultiInstance(); mi != nil && mi.Collection == "" {
			fail("multi-instance activity without collection")
		}
	}
	switch n := node.(type) {
	case *StartEvent:
		errs = errors.Join(errs, d.validateEvent(n.Id, n.Event))
	case *EndEvent:
		if n.Terminate && n.TerminateScope != "" && n.TerminateScope != TerminateScopeProcess && n.TerminateScope != TerminateScopeLocal {
			fail("unknown terminate scope %q", n.TerminateScope)
		}
	case *Task:
		switch n.TaskType {
		case TaskTypeScript:
			if n.Script == "" {
				fail("script task without script")
			}
			if n.ScriptLanguage != "" && n.ScriptLanguage != ScriptLanguageJavascript && n.ScriptLanguage != ScriptLanguageFeel {
				fail("unsupported script language %q", n.ScriptLanguage)
			}
		case TaskTypeRule:
			if n.RuleGroup == "" {
				fail("rule task without rule group")
			}
		}
	case *Gateway:
		if n.Default != "" {
			flow, ok := d.flows[n.Default]
			if !ok || flow.SourceRef != n.Id {
				fail("default flow %q is not an outgoing flow of the gateway", n.Default)
			}
		}
		if n.GatewayType == GatewayTypeEventBased {
			for _, flow := range d.outgoing[n.Id] {
				if !isEventBasedTarget(d.nodes[flow.TargetRef]) {
					fail("event based gateway branch %q does not lead to a catch event or receive task", flow.Id)
				}
			}
		}
	case *SubProcess:
		switch n.SubProcessType {
		case SubProcessTypeCallActivity:
			if n.CalledElement == "" {
				fail("call activity without called element")
			}
		case SubProcessTypeEmbedded, "":
			if len(d.StartEvents(n)) == 0 {
				fail("embedded sub process without start event")
			}
		}
	case *IntermediateCatchEvent:
		errs = errors.Join(errs, d.validateEvent(n.Id, n.Event))
	case *IntermediateThrowEvent:
		if n.Event.Trigger == TriggerLink {
			if _, ok := d.LinkTarget(n.Id, n.Event.Ref); !ok {
				fail("no link catch event named %q", n.Event.Ref)
			}
		}
	case *BoundaryEvent:
		attached, ok := d.nodes[n.AttachedTo]
		if !ok {
			fail("attached activity %q does not exist", n.AttachedTo)
			break
		}
		if _, ok := attached.(Activity); !ok {
			fail("boundary event attached to %q which is not an activity", n.AttachedTo)
		}
		if d.containers[n.AttachedTo] != d.containers[n.Id] {
			fail("boundary event and activity %q are in different containers", n.AttachedTo)
		}
		if n.Event.Trigger == TriggerCompensation {
			handler, ok := d.nodes[n.CompensationHandler].(Activity)
			if !ok || !handler.ForCompensation() {
				fail("compensation handler %q is not an activity marked for compensation", n.CompensationHandler)
			}
		} else {
			errs = errors.Join(errs, d.validateEvent(n.Id, n.Event))
		}
	}
	return errs
}

func (d *ProcessDefinition) validateEvent(elementId string, event EventDefinition) error {
	switch event.Trigger {
	case TriggerTimer:
		if event.Timer == nil || event.Timer.Value == "" {
			return newDefinitionErrorf(d.Id, elementId, "timer event without timer definition")
		}
	case TriggerCondition:
		if event.Condition == "" {
			return newDefinitionErrorf(d.Id, elementId, "conditional event without condition")
		}
	case TriggerSignal, TriggerMessage, TriggerLink:
		if event.Ref == "" {
			return newDefinitionErrorf(d.Id, elementId, "%s event without name", event.Trigger)
		}
	}
	return nil
}

func isEventBasedTarget(node FlowNode) bool {
	switch n := node.(type) {
	case *IntermediateCatchEvent:
		return n.Event.Trigger != TriggerLink && n.Event.Trigger != TriggerNone
	case *Task:
		return n.WaitsForMessage()
	}
	return false
}
