package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/paxosvs/internal/store"
)

func TestMemoryContainsAndAdd(t *testing.T) {
	m := store.NewMemory()
	assert.False(t, m.Contains("a"))

	require.NoError(t, m.Add("a"))
	assert.True(t, m.Contains("a"))

	require.NoError(t, m.Add("a"))
	assert.ElementsMatch(t, []string{"a"}, m.Values())
}

func TestLineStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.txt")

	s1, err := store.OpenLineStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Add("alpha"))
	require.NoError(t, s1.Add("beta"))
	require.NoError(t, s1.Close())

	s2, err := store.OpenLineStore(path)
	require.NoError(t, err)
	defer s2.Close()

	assert.True(t, s2.Contains("alpha"))
	assert.True(t, s2.Contains("beta"))
	assert.False(t, s2.Contains("gamma"))
}

func TestLineStoreAddIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.txt")

	s, err := store.OpenLineStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add("alpha"))
	require.NoError(t, s.Add("alpha"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", string(raw))
}

func TestLineStoreSeedsFromExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.txt")
	require.NoError(t, os.WriteFile(path, []byte("seeded\n"), 0o644))

	s, err := store.OpenLineStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Contains("seeded"))
}
