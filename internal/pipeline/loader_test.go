package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/model"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func scanPaths(entries []FileEntry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}

func TestLoaderClassifiesByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "main_test.go", "package main")
	writeFile(t, root, "scripts/run.py", "print('hi')")
	writeFile(t, root, "notes.txt", "plain notes")
	writeFile(t, root, "data.csv", "a,b,c")

	entries, err := NewLoader().Scan(root, LoadOptions{IncludeCode: true})
	require.NoError(t, err)

	byPath := make(map[string]FileEntry)
	for _, e := range entries {
		byPath[e.Path] = e
	}

	assert.Equal(t, model.SourceTypeDoc, byPath["README.md"].SourceType)
	assert.Equal(t, model.SourceTypeDoc, byPath["notes.txt"].SourceType)
	assert.Equal(t, model.SourceTypeCode, byPath["main.go"].SourceType)
	assert.Equal(t, "go", byPath["main.go"].Language)
	assert.Equal(t, model.SourceTypeTest, byPath["main_test.go"].SourceType)
	assert.Equal(t, "python", byPath["scripts/run.py"].Language)
	assert.NotContains(t, byPath, "data.csv")
}

func TestLoaderDefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.go", "package app")
	writeFile(t, root, ".git/config", "[core]")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = 1")
	writeFile(t, root, "vendor/dep/dep.go", "package dep")
	writeFile(t, root, ".hidden.go", "package hidden")
	writeFile(t, root, "app.min.js", "var a=1")

	entries, err := NewLoader().Scan(root, LoadOptions{IncludeCode: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.go"}, scanPaths(entries))
}

func TestLoaderHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n*.pb.go\n!keep.pb.go\n")
	writeFile(t, root, "src/.gitignore", "fixtures.md\n")
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "keep.pb.go", "package main")
	writeFile(t, root, "skip.pb.go", "package main")
	writeFile(t, root, "generated/gen.go", "package gen")
	writeFile(t, root, "src/app.go", "package app")
	writeFile(t, root, "src/fixtures.md", "# ignored here")
	writeFile(t, root, "fixtures.md", "# fine at root")

	entries, err := NewLoader().Scan(root, LoadOptions{IncludeCode: true})
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"main.go", "keep.pb.go", "src/app.go", "fixtures.md"},
		scanPaths(entries))
}

func TestLoaderDocsOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "main.go", "package main")

	entries, err := NewLoader().Scan(root, LoadOptions{IncludeCode: false})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, scanPaths(entries))
}

func TestLoaderPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = 1")
	writeFile(t, root, "b.go", "package b")
	writeFile(t, root, "docs/guide.md", "# guide")

	entries, err := NewLoader().Scan(root, LoadOptions{
		IncludeCode: true,
		Patterns:    []string{"*.py"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, scanPaths(entries))
}

func TestLoaderMaxFileSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.md", "ok")

	loader := NewLoader()
	loader.maxFileSize = 4
	writeFile(t, root, "big.md", "this file exceeds four bytes")

	entries, err := loader.Scan(root, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"small.md"}, scanPaths(entries))
}

func TestLoaderRejectsNonDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.md", "x")

	_, err := NewLoader().Scan(filepath.Join(root, "file.md"), LoadOptions{})
	require.Error(t, err)

	_, err = NewLoader().Scan(filepath.Join(root, "missing"), LoadOptions{})
	require.Error(t, err)
}

func TestReadFileSkipsBinary(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "blob.md")
	require.NoError(t, os.WriteFile(path, []byte{'a', 0, 'b'}, 0o644))

	content, err := ReadFile(FileEntry{Path: "blob.md", AbsPath: path})
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestIsTestFile(t *testing.T) {
	assert.True(t, isTestFile("pkg/foo_test.go"))
	assert.True(t, isTestFile("tests/test_auth.py"))
	assert.True(t, isTestFile("src/app.test.ts"))
	assert.True(t, isTestFile("src/app.spec.js"))
	assert.False(t, isTestFile("pkg/foo.go"))
	assert.False(t, isTestFile("contest.py"))
}
