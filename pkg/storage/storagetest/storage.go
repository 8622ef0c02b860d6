package storagetest

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	stdruntime "runtime"

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

// StorageTester runs the same behavioural checks against every storage implementation.
// Tests share one store, every test uses its own ids.
type StorageTester struct {
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestProcessDefinitionStorageWriter,
		st.TestProcessDefinitionStorageReader,
		st.TestProcessInstanceStorageWriter,
		st.TestProcessInstanceStorageReader,
		st.TestProcessInstanceDelete,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func definition(id string, version int32) storage.DefinitionRecord {
	return storage.DefinitionRecord{
		Id:        id,
		Version:   version,
		Source:    []byte("id: " + id + "\nnodes: []\n"),
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func instance(key int64, state string) storage.ProcessInstanceRecord {
	return storage.ProcessInstanceRecord{
		Key:               key,
		DefinitionId:      "instance-definition",
		DefinitionVersion: 1,
		State:             state,
		Snapshot:          []byte(`{"key":1}`),
		UpdatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (st *StorageTester) TestProcessDefinitionStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := t.Context()

		err := s.SaveDefinition(ctx, definition("writer", 1))
		assert.NoError(t, err)

		// saving the same version again overwrites it
		updated := definition("writer", 1)
		updated.Source = []byte("changed")
		err = s.SaveDefinition(ctx, updated)
		assert.NoError(t, err)

		stored, err := s.FindDefinition(ctx, "writer", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("changed"), stored.Source)
	}
}

func (st *StorageTester) TestProcessDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, s.SaveDefinition(ctx, definition("reader", 2)))
		require.NoError(t, s.SaveDefinition(ctx, definition("reader", 1)))

		all, err := s.FindDefinitions(ctx)
		require.NoError(t, err)
		var versions []int32
		for _, def := range all {
			if def.Id == "reader" {
				versions = append(versions, def.Version)
			}
		}
		assert.Equal(t, []int32{1, 2}, versions)

		_, err = s.FindDefinition(ctx, "reader", 3)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	}
}

func (st *StorageTester) TestProcessInstanceStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := t.Context()
		record := instance(1001, "ACTIVE")
		require.NoError(t, s.SaveProcessInstance(ctx, record))

		record.State = "COMPLETED"
		record.Snapshot = []byte(`{"key":2}`)
		require.NoError(t, s.SaveProcessInstance(ctx, record))

		stored, err := s.FindProcessInstance(ctx, 1001)
		require.NoError(t, err)
		assert.Equal(t, "COMPLETED", stored.State)
		assert.Equal(t, []byte(`{"key":2}`), stored.Snapshot)
		assert.Equal(t, "instance-definition", stored.DefinitionId)
	}
}

func (st *StorageTester) TestProcessInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, s.SaveProcessInstance(ctx, instance(2002, "SUSPENDED_TEST")))
		require.NoError(t, s.SaveProcessInstance(ctx, instance(2001, "SUSPENDED_TEST")))

		records, err := s.FindProcessInstancesByState(ctx, "SUSPENDED_TEST")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(2001), records[0].Key)
		assert.Equal(t, int64(2002), records[1].Key)

		records, err = s.FindProcessInstancesByState(ctx, "NO_SUCH_STATE")
		require.NoError(t, err)
		assert.Empty(t, records)

		_, err = s.FindProcessInstance(ctx, 999999)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	}
}

func (st *StorageTester) TestProcessInstanceDelete(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, s.SaveProcessInstance(ctx, instance(3001, "ACTIVE")))

		require.NoError(t, s.DeleteProcessInstance(ctx, 3001))

		_, err := s.FindProcessInstance(ctx, 3001)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	}
}
