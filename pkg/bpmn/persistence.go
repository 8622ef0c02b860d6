package bpmn

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/correlation"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/rules"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

const snapshotVersion = 1

// Snapshot is the serialized form of a process instance together with the instances it called.
// The first entry is the instance the snapshot was taken for.
type Snapshot struct {
	Version   int             `json:"version"`
	Instances []InstanceState `json:"instances"`
}

// InstanceState is everything the engine keeps for one instance outside of the instance itself.
type InstanceState struct {
	Instance        *runtime.ProcessInstance   `json:"instance"`
	Registrations   []correlation.Registration `json:"registrations,omitempty"`
	Timers          []runtime.TimerInstance    `json:"timers,omitempty"`
	WorkItems       []runtime.WorkItem         `json:"workItems,omitempty"`
	RuleActivations []rules.Activation         `json:"ruleActivations,omitempty"`
}

// Serialize captures a running instance, its called instances, and their registrations, timers,
// work items and rule activations. Restoring the result on any engine with the same definitions
// deployed continues the instance as if it had never left.
func (engine *Engine) Serialize(ctx context.Context, processInstanceKey int64) ([]byte, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	instance, ok := engine.instances[processInstanceKey]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProcessInstanceNotFound, processInstanceKey)
	}
	snapshot := Snapshot{Version: snapshotVersion}
	for _, key := range engine.familyOf(instance) {
		member, ok := engine.instances[key]
		if !ok {
			continue
		}
		snapshot.Instances = append(snapshot.Instances, engine.stateOf(member))
	}
	return json.Marshal(snapshot)
}

func (engine *Engine) stateOf(instance *runtime.ProcessInstance) InstanceState {
	state := InstanceState{
		Instance:      instance.Clone(),
		Registrations: engine.bus.Owned(instance.Key),
		Timers:        engine.timers.Owned(instance.Key),
		WorkItems:     engine.ActiveWorkItems(instance.Key),
	}
	for _, activation := range engine.rules.Activations() {
		if instance.FindNodeInstance(activation.Key) != nil {
			state.RuleActivations = append(state.RuleActivations, activation)
		}
	}
	return state
}

// Restore puts serialized instances back into the engine, replacing the running instances with
// the same keys. It returns the instance the snapshot was taken for.
func (engine *Engine) Restore(ctx context.Context, data []byte) (*runtime.ProcessInstance, error) {
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	for _, state := range snapshot.Instances {
		instance := state.Instance
		if _, ok := engine.findDefinition(instance.DefinitionId, instance.DefinitionVersion); !ok {
			return nil, newEngineErrorf("process definition %s version %d is not deployed", instance.DefinitionId, instance.DefinitionVersion)
		}
	}
	err = engine.exec(ctx, func(ctx context.Context) error {
		for _, state := range snapshot.Instances {
			engine.restoreState(state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return engine.GetProcessInstance(ctx, snapshot.Instances[0].Instance.Key)
}

func (engine *Engine) restoreState(state InstanceState) {
	instance := state.Instance
	engine.forget(instance.Key)
	if instance.Variables == nil {
		instance.Variables = map[string]any{}
	}
	engine.instances[instance.Key] = instance
	engine.bus.Restore(state.Registrations)
	engine.timers.Restore(state.Timers)
	for _, item := range state.WorkItems {
		engine.putWorkItem(&item)
	}
	engine.rules.Restore(state.RuleActivations)
	engine.touch(instance)
	engine.logger.Debug("process instance restored", "key", instance.Key, "process", instance.DefinitionId,
		"registrations", len(state.Registrations), "timers", len(state.Timers))
}

// forget drops everything the engine holds for an instance without ending it.
func (engine *Engine) forget(processInstanceKey int64) {
	instance, ok := engine.instances[processInstanceKey]
	if !ok {
		return
	}
	engine.bus.UnregisterProcessInstance(processInstanceKey)
	engine.timers.CancelProcessInstance(processInstanceKey)
	for _, ni := range instance.NodeInstances {
		engine.rules.DeactivateGroup(ni.Key)
		if ni.WorkItemKey != 0 {
			engine.removeWorkItem(ni.WorkItemKey)
		}
	}
	delete(engine.instances, processInstanceKey)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode process instance snapshot: %w", err)
	}
	if snapshot.Version != snapshotVersion {
		return nil, newEngineErrorf("unsupported snapshot version %d", snapshot.Version)
	}
	if len(snapshot.Instances) == 0 || snapshot.Instances[0].Instance == nil {
		return nil, newEngineErrorf("snapshot holds no process instance")
	}
	for _, state := range snapshot.Instances {
		normalizeInstance(state.Instance)
		for i := range state.WorkItems {
			state.WorkItems[i].Parameters = normalizeMap(state.WorkItems[i].Parameters)
			state.WorkItems[i].Results = normalizeMap(state.WorkItems[i].Results)
		}
	}
	return &snapshot, nil
}

func normalizeInstance(instance *runtime.ProcessInstance) {
	instance.Variables = normalizeMap(instance.Variables)
	for _, ni := range instance.NodeInstances {
		ni.Variables = normalizeMap(ni.Variables)
		if ni.MultiInstance != nil {
			for i, item := range ni.MultiInstance.Items {
				ni.MultiInstance.Items[i] = normalizeNumbers(item)
			}
			for i, output := range ni.MultiInstance.Outputs {
				ni.MultiInstance.Outputs[i] = normalizeNumbers(output)
			}
		}
		if ni.Join != nil && ni.Join.Arrived == nil {
			ni.Join.Arrived = map[string]int{}
		}
	}
	for i := range instance.CompletedActivities {
		instance.CompletedActivities[i].Variables = normalizeMap(instance.CompletedActivities[i].Variables)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeNumbers(v)
	}
	return m
}

// normalizeNumbers turns json.Number back into int64 when the number is integral, float64 otherwise.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		return normalizeMap(v)
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	}
	return value
}

// persist writes the snapshot of a changed instance to the storage.
func (engine *Engine) persist(ctx context.Context, instance *runtime.ProcessInstance) error {
	if engine.persistence == nil {
		return nil
	}
	state := InstanceState{Instance: instance.Clone()}
	if !instance.IsTerminal() {
		state = engine.stateOf(instance)
	}
	data, err := json.Marshal(Snapshot{Version: snapshotVersion, Instances: []InstanceState{state}})
	if err != nil {
		return fmt.Errorf("failed to serialize process instance %d: %w", instance.Key, err)
	}
	err = engine.persistence.SaveProcessInstance(ctx, storage.ProcessInstanceRecord{
		Key:               instance.Key,
		DefinitionId:      instance.DefinitionId,
		DefinitionVersion: instance.DefinitionVersion,
		State:             string(instance.State),
		ParentInstanceKey: instance.ParentInstanceKey,
		Snapshot:          data,
		UpdatedAt:         engine.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save process instance %d: %w", instance.Key, err)
	}
	return nil
}

// Recover deploys every definition found in the storage and restores the instances that were running.
func (engine *Engine) Recover(ctx context.Context) error {
	if engine.persistence == nil {
		return newEngineErrorf("engine %s has no storage to recover from", engine.name)
	}
	records, err := engine.persistence.FindDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load process definitions: %w", err)
	}
	slices.SortFunc(records, func(a, b storage.DefinitionRecord) int {
		return cmp.Or(cmp.Compare(a.Id, b.Id), cmp.Compare(a.Version, b.Version))
	})
	for _, record := range records {
		definition, err := model.Parse(record.Source)
		if err != nil {
			return fmt.Errorf("failed to parse process definition %s version %d: %w", record.Id, record.Version, err)
		}
		definition.Version = record.Version
		if err := definition.Finalize(); err != nil {
			return err
		}
		err = engine.exec(ctx, func(ctx context.Context) error {
			return engine.deploy(definition)
		})
		if err != nil {
			return err
		}
	}

	instances, err := engine.persistence.FindProcessInstancesByState(ctx, string(runtime.ProcessInstanceActive))
	if err != nil {
		return fmt.Errorf("failed to load running process instances: %w", err)
	}
	for _, record := range instances {
		if _, err := engine.Restore(ctx, record.Snapshot); err != nil {
			return fmt.Errorf("failed to recover process instance %d: %w", record.Key, err)
		}
	}
	engine.logger.Info("engine recovered", "definitions", len(records), "instances", len(instances))
	return nil
}
