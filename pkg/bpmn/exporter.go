package bpmn

import (
	"github.com/pbinitiative/zenflow/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const sequenceFlowElementType = "SEQUENCE_FLOW"

func (engine *Engine) exportNewProcessEvent(definition *model.ProcessDefinition, source []byte) {
	event := exporter.ProcessEvent{
		ProcessId: definition.Id,
		Version:   definition.Version,
		Source:    source,
	}
	for _, exp := range engine.exporters {
		exp.NewProcessEvent(&event)
	}
}

func (engine *Engine) exportEndProcessEvent(instance *runtime.ProcessInstance, intent exporter.Intent) {
	event := processInstanceEvent(instance, intent)
	for _, exp := range engine.exporters {
		exp.EndProcessEvent(&event)
	}
}

func (engine *Engine) exportProcessInstanceEvent(instance *runtime.ProcessInstance) {
	event := processInstanceEvent(instance, exporter.Created)
	for _, exp := range engine.exporters {
		exp.NewProcessInstanceEvent(&event)
	}
}

func (engine *Engine) exportElementEvent(instance *runtime.ProcessInstance, node model.FlowNode, ni *runtime.NodeInstance, intent exporter.Intent) {
	if len(engine.exporters) == 0 {
		return
	}
	event := processInstanceEvent(instance, intent)
	info := exporter.ElementInfo{
		BpmnElementType: string(node.GetType()),
		ElementId:       node.GetId(),
		ElementKey:      ni.Key,
		Intent:          intent,
	}
	for _, exp := range engine.exporters {
		exp.NewElementEvent(&event, &info)
	}
}

func (engine *Engine) exportFlowEvent(instance *runtime.ProcessInstance, flow *model.SequenceFlow) {
	if len(engine.exporters) == 0 {
		return
	}
	event := processInstanceEvent(instance, exporter.SequenceFlowTaken)
	info := exporter.ElementInfo{
		BpmnElementType: sequenceFlowElementType,
		ElementId:       flow.Id,
		Intent:          exporter.SequenceFlowTaken,
	}
	for _, exp := range engine.exporters {
		exp.NewElementEvent(&event, &info)
	}
}

func processInstanceEvent(instance *runtime.ProcessInstance, intent exporter.Intent) exporter.ProcessInstanceEvent {
	return exporter.ProcessInstanceEvent{
		ProcessId:          instance.DefinitionId,
		Version:            instance.DefinitionVersion,
		ProcessInstanceKey: instance.Key,
		Intent:             intent,
	}
}

func otelMetricAttributes(instance *runtime.ProcessInstance) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, instance.DefinitionId),
		attribute.Int64(otelPkg.AttributeProcessVersion, int64(instance.DefinitionVersion)),
	)
}
