package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"init", "serve", "index", "search", "jobs", "status", "version"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing subcommand %s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
}

func TestJobsCommandEmptyProject(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"jobs", "--project", t.TempDir()})

	require.NoError(t, root.Execute())
}

func TestInitCommandWritesConfig(t *testing.T) {
	dir := t.TempDir()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"init", "--project", dir})

	require.NoError(t, root.Execute())

	data, err := os.ReadFile(filepath.Join(dir, ".agentbrain", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: embedded")
}

func TestSearchCommandRequiresQuery(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"search"})

	assert.Error(t, root.Execute())
}
