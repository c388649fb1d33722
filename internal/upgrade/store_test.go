package upgrade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersistsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrade", "data.yaml")

	pre, err := Open(path)
	require.NoError(t, err)
	assert.False(t, pre.Has("test_pre_cv"))
	require.NoError(t, pre.Save("test_pre_cv", map[string]any{"cv": "upgrade_cv", "version": 2}))
	require.NoError(t, pre.Save("test_pre_org", map[string]any{"org": "upgrade_org"}))

	post, err := Open(path)
	require.NoError(t, err)
	data, ok := post.Load("test_pre_cv")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"cv": "upgrade_cv", "version": 2}, data)
	assert.Equal(t, []string{"test_pre_cv", "test_pre_org"}, post.Tests())
}

func TestStoreInMemory(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.NoError(t, s.Save("t", map[string]any{"k": "v"}))
	assert.True(t, s.Has("t"))
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not: a map\n"), 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}
