package exporter

import (
	"slices"
	"sync"
)

// HistoryEntry is one element event recorded by the HistoryExporter.
type HistoryEntry struct {
	ProcessInstanceKey int64
	ElementId          string
	ElementType        string
	Intent             Intent
}

// HistoryExporter keeps the element events of every instance in memory.
type HistoryExporter struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

var _ EventExporter = (*HistoryExporter)(nil)

func NewHistoryExporter() *HistoryExporter {
	return &HistoryExporter{}
}

func (e *HistoryExporter) NewProcessEvent(*ProcessEvent) {}

func (e *HistoryExporter) EndProcessEvent(event *ProcessInstanceEvent) {
	e.append(HistoryEntry{ProcessInstanceKey: event.ProcessInstanceKey, ElementId: event.ProcessId, ElementType: "PROCESS", Intent: event.Intent})
}

func (e *HistoryExporter) NewProcessInstanceEvent(event *ProcessInstanceEvent) {
	e.append(HistoryEntry{ProcessInstanceKey: event.ProcessInstanceKey, ElementId: event.ProcessId, ElementType: "PROCESS", Intent: Created})
}

func (e *HistoryExporter) NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo) {
	e.append(HistoryEntry{
		ProcessInstanceKey: event.ProcessInstanceKey,
		ElementId:          elementInfo.ElementId,
		ElementType:        elementInfo.BpmnElementType,
		Intent:             elementInfo.Intent,
	})
}

func (e *HistoryExporter) append(entry HistoryEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
}

// Entries returns the recorded events of an instance in the order they happened.
func (e *HistoryExporter) Entries(processInstanceKey int64) []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var result []HistoryEntry
	for _, entry := range e.entries {
		if entry.ProcessInstanceKey == processInstanceKey {
			result = append(result, entry)
		}
	}
	return result
}

// Elements returns the ids of the elements of an instance that reached the given intent, in order.
func (e *HistoryExporter) Elements(processInstanceKey int64, intent Intent) []string {
	var result []string
	for _, entry := range e.Entries(processInstanceKey) {
		if entry.Intent == intent && entry.ElementType != "PROCESS" {
			result = append(result, entry.ElementId)
		}
	}
	return slices.Clip(result)
}
