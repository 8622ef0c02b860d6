package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// DefinitionRecord is a deployed process definition in its YAML form.
type DefinitionRecord struct {
	Id        string
	Version   int32
	Source    []byte
	CreatedAt time.Time
}

// ProcessInstanceRecord is the latest snapshot of one process instance.
type ProcessInstanceRecord struct {
	Key               int64
	DefinitionId      string
	DefinitionVersion int32
	State             string
	ParentInstanceKey int64
	Snapshot          []byte
	UpdatedAt         time.Time
}

type ProcessDefinitionStorageReader interface {
	// FindDefinitions returns every stored definition ordered by id and version
	FindDefinitions(ctx context.Context) ([]DefinitionRecord, error)
	FindDefinition(ctx context.Context, id string, version int32) (DefinitionRecord, error)
}

type ProcessDefinitionStorageWriter interface {
	// SaveDefinition persists a definition and overwrites prior data stored with the same id and version
	SaveDefinition(ctx context.Context, definition DefinitionRecord) error
}

type ProcessInstanceStorageReader interface {
	FindProcessInstance(ctx context.Context, key int64) (ProcessInstanceRecord, error)
	// FindProcessInstancesByState returns the instances in given state ordered by key
	FindProcessInstancesByState(ctx context.Context, state string) ([]ProcessInstanceRecord, error)
}

type ProcessInstanceStorageWriter interface {
	// SaveProcessInstance persists the instance and overwrites prior data stored with the same key
	SaveProcessInstance(ctx context.Context, instance ProcessInstanceRecord) error
	DeleteProcessInstance(ctx context.Context, key int64) error
}

type Storage interface {
	ProcessDefinitionStorageReader
	ProcessDefinitionStorageWriter
	ProcessInstanceStorageReader
	ProcessInstanceStorageWriter
	Close() error
}
