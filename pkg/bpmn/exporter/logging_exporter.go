package exporter

import (
	"github.com/hashicorp/go-hclog"
)

// LoggingExporter writes every event to a logger at debug level.
type LoggingExporter struct {
	logger hclog.Logger
}

var _ EventExporter = (*LoggingExporter)(nil)

func NewLoggingExporter(logger hclog.Logger) *LoggingExporter {
	if logger == nil {
		logger = hclog.Default()
	}
	return &LoggingExporter{logger: logger.Named("exporter")}
}

func (e *LoggingExporter) NewProcessEvent(event *ProcessEvent) {
	e.logger.Debug("process deployed", "processId", event.ProcessId, "version", event.Version)
}

func (e *LoggingExporter) EndProcessEvent(event *ProcessInstanceEvent) {
	e.logger.Debug("process instance ended", "processId", event.ProcessId, "instance", event.ProcessInstanceKey, "intent", event.Intent)
}

func (e *LoggingExporter) NewProcessInstanceEvent(event *ProcessInstanceEvent) {
	e.logger.Debug("process instance created", "processId", event.ProcessId, "instance", event.ProcessInstanceKey)
}

func (e *LoggingExporter) NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo) {
	e.logger.Trace("element event", "instance", event.ProcessInstanceKey, "element", elementInfo.ElementId, "type", elementInfo.BpmnElementType, "intent", elementInfo.Intent)
}
