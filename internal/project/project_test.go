package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLayout(t *testing.T) {
	root := t.TempDir()
	paths, err := Resolve(root)
	require.NoError(t, err)

	state := filepath.Join(root, StateDirName)
	assert.Equal(t, state, paths.StateDir)
	assert.Equal(t, filepath.Join(state, "embedded_vector"), paths.VectorDir)
	assert.Equal(t, filepath.Join(state, "embedded_keyword"), paths.KeywordDir)
	assert.Equal(t, filepath.Join(state, "graph_index", "graph_store.json"), paths.GraphStore)
	assert.Equal(t, filepath.Join(state, "manifest.jsonl"), paths.Manifest)
	assert.Equal(t, filepath.Join(state, "jobs"), paths.JobsDir)
	assert.Equal(t, filepath.Join(state, "runtime.json"), paths.RuntimeFile)
}

func TestEnsureDirs(t *testing.T) {
	paths, err := Resolve(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	for _, dir := range []string{paths.StateDir, paths.JobsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestRuntimeRoundTrip(t *testing.T) {
	paths, err := Resolve(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	missing, err := paths.ReadRuntime()
	require.NoError(t, err)
	assert.Nil(t, missing)

	rt := Runtime{
		BaseURL:    "http://127.0.0.1:7700",
		Port:       7700,
		BindHost:   "127.0.0.1",
		PID:        os.Getpid(),
		StartedAt:  time.Now().UTC().Truncate(time.Second),
		Foreground: true,
	}
	require.NoError(t, paths.WriteRuntime(rt))

	got, err := paths.ReadRuntime()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rt, *got)

	require.NoError(t, paths.RemoveRuntime())
	require.NoError(t, paths.RemoveRuntime(), "removing twice is fine")
	gone, err := paths.ReadRuntime()
	require.NoError(t, err)
	assert.Nil(t, gone)
}
