// Package project resolves the per-project state directory layout and the
// runtime descriptor the server writes for clients.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
)

// StateDirName is the directory created inside a project root.
const StateDirName = ".agentbrain"

// Paths is the fixed layout under a project's state directory.
type Paths struct {
	StateDir    string
	VectorDir   string // embedded_vector/
	KeywordDir  string // embedded_keyword/
	GraphStore  string // graph_index/graph_store.json
	Manifest    string // manifest.jsonl
	JobsDir     string // jobs/
	RuntimeFile string // runtime.json
	ConfigFile  string // config.yaml
}

// Resolve computes the state layout for a project root. It does not create
// anything; call EnsureDirs before writing.
func Resolve(root string) (*Paths, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeInvalidPath, fmt.Sprintf("resolve %s: %v", root, err), err)
	}
	state := filepath.Join(abs, StateDirName)
	return &Paths{
		StateDir:    state,
		VectorDir:   filepath.Join(state, "embedded_vector"),
		KeywordDir:  filepath.Join(state, "embedded_keyword"),
		GraphStore:  filepath.Join(state, "graph_index", "graph_store.json"),
		Manifest:    filepath.Join(state, "manifest.jsonl"),
		JobsDir:     filepath.Join(state, "jobs"),
		RuntimeFile: filepath.Join(state, "runtime.json"),
		ConfigFile:  filepath.Join(state, "config.yaml"),
	}, nil
}

// EnsureDirs creates the state directory tree.
func (p *Paths) EnsureDirs() error {
	for _, dir := range []string{p.StateDir, p.JobsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("create %s: %v", dir, err), err)
		}
	}
	return nil
}

// Runtime is the server descriptor written before the listener accepts
// traffic. Clients read it to find a running instance.
type Runtime struct {
	BaseURL    string    `json:"base_url"`
	Port       int       `json:"port"`
	BindHost   string    `json:"bind_host"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Foreground bool      `json:"foreground"`
}

// WriteRuntime persists the descriptor atomically.
func (p *Paths) WriteRuntime(rt Runtime) error {
	data, err := json.MarshalIndent(rt, "", "  ")
	if err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("encode runtime descriptor: %v", err), err)
	}
	if err := renameio.WriteFile(p.RuntimeFile, append(data, '\n'), 0o644); err != nil {
		return braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("write runtime descriptor: %v", err), err)
	}
	return nil
}

// ReadRuntime loads the descriptor. Returns nil when none exists.
func (p *Paths) ReadRuntime() (*Runtime, error) {
	data, err := os.ReadFile(p.RuntimeFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("read runtime descriptor: %v", err), err)
	}
	var rt Runtime
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, braerr.New(braerr.ErrCodeCorruptState, fmt.Sprintf("parse runtime descriptor: %v", err), err)
	}
	return &rt, nil
}

// RemoveRuntime deletes the descriptor, ignoring absence.
func (p *Paths) RemoveRuntime() error {
	err := os.Remove(p.RuntimeFile)
	if err != nil && !os.IsNotExist(err) {
		return braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("remove runtime descriptor: %v", err), err)
	}
	return nil
}
