package inmemory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/pbinitiative/zenflow/pkg/storage"
)

type definitionId struct {
	id      string
	version int32
}

// Storage keeps process information in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu                 sync.RWMutex
	ProcessDefinitions map[definitionId]storage.DefinitionRecord
	ProcessInstances   map[int64]storage.ProcessInstanceRecord
}

func NewStorage() *Storage {
	return &Storage{
		ProcessDefinitions: make(map[definitionId]storage.DefinitionRecord),
		ProcessInstances:   make(map[int64]storage.ProcessInstanceRecord),
	}
}

var _ storage.Storage = &Storage{}

var _ storage.ProcessDefinitionStorageReader = &Storage{}

func (mem *Storage) FindDefinitions(ctx context.Context) ([]storage.DefinitionRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]storage.DefinitionRecord, 0, len(mem.ProcessDefinitions))
	for _, def := range mem.ProcessDefinitions {
		res = append(res, def)
	}
	slices.SortFunc(res, func(a, b storage.DefinitionRecord) int {
		return cmp.Or(cmp.Compare(a.Id, b.Id), cmp.Compare(a.Version, b.Version))
	})
	return res, nil
}

func (mem *Storage) FindDefinition(ctx context.Context, id string, version int32) (storage.DefinitionRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	def, ok := mem.ProcessDefinitions[definitionId{id: id, version: version}]
	if !ok {
		return storage.DefinitionRecord{}, fmt.Errorf("definition %s version %d: %w", id, version, storage.ErrNotFound)
	}
	return def, nil
}

var _ storage.ProcessDefinitionStorageWriter = &Storage{}

func (mem *Storage) SaveDefinition(ctx context.Context, definition storage.DefinitionRecord) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	definition.Source = slices.Clone(definition.Source)
	mem.ProcessDefinitions[definitionId{id: definition.Id, version: definition.Version}] = definition
	return nil
}

var _ storage.ProcessInstanceStorageReader = &Storage{}

func (mem *Storage) FindProcessInstance(ctx context.Context, key int64) (storage.ProcessInstanceRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	instance, ok := mem.ProcessInstances[key]
	if !ok {
		return storage.ProcessInstanceRecord{}, fmt.Errorf("process instance %d: %w", key, storage.ErrNotFound)
	}
	return instance, nil
}

func (mem *Storage) FindProcessInstancesByState(ctx context.Context, state string) ([]storage.ProcessInstanceRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]storage.ProcessInstanceRecord, 0)
	for _, instance := range mem.ProcessInstances {
		if instance.State == state {
			res = append(res, instance)
		}
	}
	slices.SortFunc(res, func(a, b storage.ProcessInstanceRecord) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return res, nil
}

var _ storage.ProcessInstanceStorageWriter = &Storage{}

func (mem *Storage) SaveProcessInstance(ctx context.Context, instance storage.ProcessInstanceRecord) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	instance.Snapshot = slices.Clone(instance.Snapshot)
	mem.ProcessInstances[instance.Key] = instance
	return nil
}

func (mem *Storage) DeleteProcessInstance(ctx context.Context, key int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.ProcessInstances, key)
	return nil
}

func (mem *Storage) Close() error {
	return nil
}
