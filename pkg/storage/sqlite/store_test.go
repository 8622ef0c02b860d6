package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/sqlite"
	"github.com/pbinitiative/zenflow/pkg/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func TestSqliteStorage(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "zenflow.db"))
	require.NoError(t, err)
	defer store.Close()
	var s storage.Storage = store

	tester := storagetest.StorageTester{}

	tests := tester.GetTests()
	for name, testFunc := range tests {
		t.Run(name, testFunc(s, t))
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zenflow.db")
	store, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveDefinition(t.Context(), storage.DefinitionRecord{Id: "p", Version: 1, Source: []byte("id: p")}))
	require.NoError(t, store.Close())

	store, err = sqlite.Open(path)
	require.NoError(t, err)
	defer store.Close()
	def, err := store.FindDefinition(t.Context(), "p", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("id: p"), def.Source)
}
