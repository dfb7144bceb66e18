package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndRead(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("reports/daily_2026-03-02.csv", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "reports/daily_2026-03-02.csv", name)

	data, err := store.Read("reports/daily_2026-03-02.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestLocalStorageSaveAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	_, err = store.SaveAtomic("model.json", []byte("v1"))
	require.NoError(t, err)
	_, err = store.SaveAtomic("model.json", []byte("v2"))
	require.NoError(t, err)

	data, err := store.Read("model.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	// No temp files left behind after the swap.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLocalStorageConfinesPaths(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	path := store.Path("../../etc/passwd")
	rel, err := filepath.Rel(dir, path)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(rel))
	assert.NotContains(t, rel, "..")
}

func TestLocalStorageReadMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("nope.json")
	require.Error(t, err)
}
