package otel

const (
	Prefix                        = "bpmn-"
	AttributeProcessInstanceKey   = Prefix + "instance-key"
	AttributeProcessId            = Prefix + "process-id"
	AttributeProcessVersion       = Prefix + "process-version"
	AttributeElementId            = Prefix + "element-id"
	AttributeElementKey           = Prefix + "element-key"
	AttributeElementType          = Prefix + "element-type"
	AttributeEventKey             = Prefix + "event-key"
	AttributeWorkItemKey          = Prefix + "work-item-key"
	AttributeWorkItemType         = Prefix + "work-item-type"
	AttributeTimerKey             = Prefix + "timer-key"
	AttributeProcessInstanceState = Prefix + "instance-state"
)
