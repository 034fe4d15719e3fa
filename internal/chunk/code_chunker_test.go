package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/model"
)

const goSample = `package calc

import (
	"fmt"
	"strings"
)

// Add returns the sum of two integers.
func Add(a, b int) int {
	return a + b
}

// Calculator accumulates a running total.
type Calculator struct {
	total int
}

// AddValue adds v to the running total.
func (c *Calculator) AddValue(v int) int {
	c.total += v
	return c.total
}

func format(v int) string {
	return strings.TrimSpace(fmt.Sprintf(" %d ", v))
}
`

func TestCodeChunkerGoSymbols(t *testing.T) {
	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:       "calc/calc.go",
		Content:    []byte(goSample),
		Language:   "go",
		SourceType: model.SourceTypeCode,
	})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	names := make([]string, len(chunks))
	for i, c := range chunks {
		names[i] = c.Metadata.SymbolName
	}
	assert.Equal(t, []string{"Add", "Calculator", "AddValue", "format"}, names)

	add := chunks[0]
	assert.Equal(t, model.SymbolKindFunction, add.Metadata.SymbolKind)
	assert.Equal(t, "Add returns the sum of two integers.", add.Metadata.Docstring)
	assert.Equal(t, []string{"a", "b int"}, add.Metadata.Parameters)
	assert.Equal(t, "int", add.Metadata.ReturnType)
	assert.Contains(t, add.Metadata.Imports, "fmt")
	assert.Contains(t, add.Metadata.Imports, "strings")
	assert.True(t, strings.HasPrefix(add.Text, "func Add"))

	assert.Equal(t, model.SymbolKindClass, chunks[1].Metadata.SymbolKind)
	assert.Equal(t, model.SymbolKindMethod, chunks[2].Metadata.SymbolKind)
}

func TestCodeChunkerDeterministicIDs(t *testing.T) {
	chunker := NewCodeChunker()
	input := &FileInput{
		Path:       "calc/calc.go",
		Content:    []byte(goSample),
		Language:   "go",
		SourceType: model.SourceTypeCode,
	}

	first, err := chunker.Chunk(context.Background(), input)
	require.NoError(t, err)
	second, err := chunker.Chunk(context.Background(), input)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, i, first[i].Index)
		assert.Equal(t, model.ChunkID("calc/calc.go", i), first[i].ID)
	}
}

func TestCodeChunkerPythonMethodsAndDecorators(t *testing.T) {
	src := `import os
from typing import List

class Store:
    """A tiny store."""

    def put(self, key: str, value: str) -> None:
        """Store a value."""
        self.data[key] = value

@retry(times=3)
def fetch(url: str) -> List[str]:
    """Fetch lines from a URL."""
    return []
`
	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:       "store.py",
		Content:    []byte(src),
		Language:   "python",
		SourceType: model.SourceTypeCode,
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Store", chunks[0].Metadata.SymbolName)
	assert.Equal(t, model.SymbolKindClass, chunks[0].Metadata.SymbolKind)
	assert.Equal(t, "A tiny store.", chunks[0].Metadata.Docstring)

	put := chunks[1]
	assert.Equal(t, "put", put.Metadata.SymbolName)
	assert.Equal(t, model.SymbolKindMethod, put.Metadata.SymbolKind)
	assert.Equal(t, []string{"key: str", "value: str"}, put.Metadata.Parameters)
	assert.Equal(t, "None", put.Metadata.ReturnType)

	fetch := chunks[2]
	assert.Equal(t, "fetch", fetch.Metadata.SymbolName)
	assert.Equal(t, model.SymbolKindFunction, fetch.Metadata.SymbolKind)
	assert.Equal(t, []string{"retry(times=3)"}, fetch.Metadata.Decorators)
	assert.Contains(t, fetch.Metadata.Imports, "os")
	assert.Contains(t, fetch.Metadata.Imports, "typing")
}

func TestCodeChunkerOversizedSymbolSplitsAtLines(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\n// Huge does a lot.\nfunc Huge() {\n")
	for i := 0; i < 400; i++ {
		b.WriteString("\tprocess(\"some fairly long line of work to inflate the body\")\n")
	}
	b.WriteString("}\n")

	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:       "big.go",
		Content:    []byte(b.String()),
		Language:   "go",
		SourceType: model.SourceTypeCode,
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	prevEnd := 0
	for i, c := range chunks {
		assert.Equal(t, "Huge", c.Metadata.SymbolName, "part %d keeps symbol metadata", i)
		assert.Equal(t, model.SymbolKindFunction, c.Metadata.SymbolKind)
		assert.LessOrEqual(t, len(c.Text), MaxChunkChars+200)
		assert.Greater(t, c.Metadata.StartLine, prevEnd)
		prevEnd = c.Metadata.EndLine
		assert.Equal(t, i, c.Index)
	}
}

func TestCodeChunkerUnsupportedLanguageFallsBack(t *testing.T) {
	src := "fn main() {\n    println!(\"hello\");\n}\n"
	chunker := NewCodeChunker()
	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:       "main.rs",
		Content:    []byte(src),
		Language:   "rust",
		SourceType: model.SourceTypeCode,
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Metadata.SymbolName)
	assert.Equal(t, 1, chunks[0].Metadata.StartLine)
}

func TestLanguageRegistryExtensions(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, "go", r.LanguageForExtension(".go"))
	assert.Equal(t, "python", r.LanguageForExtension("py"))
	assert.Equal(t, "typescript", r.LanguageForExtension(".ts"))
	assert.Equal(t, "tsx", r.LanguageForExtension(".tsx"))
	assert.Equal(t, "javascript", r.LanguageForExtension(".mjs"))
	assert.Equal(t, "", r.LanguageForExtension(".rb"))
}
