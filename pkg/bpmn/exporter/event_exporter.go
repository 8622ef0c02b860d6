// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package exporter

// EventExporter receives the lifecycle events of an engine. Calls happen while the engine is
// traversing, implementations must not call back into the engine.
type EventExporter interface {
	NewProcessEvent(event *ProcessEvent)
	EndProcessEvent(event *ProcessInstanceEvent)
	NewProcessInstanceEvent(event *ProcessInstanceEvent)
	NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo)
}

type Intent string

const (
	ElementActivated  Intent = "ELEMENT_ACTIVATED"
	ElementCompleted  Intent = "ELEMENT_COMPLETED"
	ElementAborted    Intent = "ELEMENT_ABORTED"
	SequenceFlowTaken Intent = "SEQUENCE_FLOW_TAKEN"
	Created           Intent = "CREATED"
	Completed         Intent = "COMPLETED"
	Aborted           Intent = "ABORTED"
)

type ProcessEvent struct {
	ProcessId string
	Version   int32
	// Source is the YAML form of the deployed definition
	Source []byte
}

type ProcessInstanceEvent struct {
	ProcessId          string
	Version            int32
	ProcessInstanceKey int64
	Intent             Intent
}

type ElementInfo struct {
	BpmnElementType string
	ElementId       string
	ElementKey      int64
	Intent          Intent
}
