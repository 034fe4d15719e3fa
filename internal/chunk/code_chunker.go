package chunk

import (
	"context"
	"strings"

	"github.com/agentbrain/agentbrain/internal/model"
)

// CodeChunker splits code files into symbol-aligned chunks using tree-sitter.
// Each top-level symbol (function, method, class/type) becomes one chunk;
// symbols over the chunk budget are split at line boundaries with the symbol
// metadata carried on every part. Files in unsupported languages fall back to
// fixed-size line chunking.
type CodeChunker struct {
	registry  *LanguageRegistry
	extractor *symbolExtractor
}

// NewCodeChunker creates a code chunker with the default language registry.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithRegistry(DefaultRegistry())
}

// NewCodeChunkerWithRegistry creates a code chunker with a custom registry.
func NewCodeChunkerWithRegistry(registry *LanguageRegistry) *CodeChunker {
	return &CodeChunker{
		registry:  registry,
		extractor: newSymbolExtractor(registry),
	}
}

var _ Chunker = (*CodeChunker)(nil)

// Chunk splits a code file into chunks. Indices are assigned sequentially in
// source order so chunk IDs are stable across runs.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]model.Chunk, error) {
	config, ok := c.registry.GetByName(file.Language)
	if !ok {
		return c.chunkByLines(file), nil
	}

	parser := NewParser(c.registry)
	defer parser.Close()

	tree, err := parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// Unparseable files still get indexed, just without symbol metadata.
		return c.chunkByLines(file), nil
	}

	imports := extractImports(tree, config)
	symbols := c.collectSymbols(tree, config)
	if len(symbols) == 0 {
		return c.chunkByLines(file), nil
	}

	lines := strings.Split(string(file.Content), "\n")

	var chunks []model.Chunk
	nextIndex := 0
	for _, sym := range symbols {
		parts := c.symbolChunks(file, sym, lines, imports, &nextIndex)
		chunks = append(chunks, parts...)
	}
	return chunks, nil
}

// collectSymbols walks the tree and gathers declaration symbols in source
// order. Only top-level declarations and direct class members are chunked;
// closures and nested helpers stay inside their parent's chunk.
func (c *CodeChunker) collectSymbols(tree *Tree, config *LanguageConfig) []*Symbol {
	functionTypes := toSet(config.FunctionTypes)
	methodTypes := toSet(config.MethodTypes)
	classTypes := toSet(config.ClassTypes)

	var symbols []*Symbol

	var visit func(n *Node, insideClass bool)
	visit = func(n *Node, insideClass bool) {
		for _, child := range n.Children {
			switch {
			case classTypes[child.Type]:
				if sym := c.extractor.extract(child, tree.Source, model.SymbolKindClass, config.Name, false); sym != nil {
					symbols = append(symbols, sym)
				}
				// Python class methods become their own chunks too.
				if config.Name == "python" {
					if body := child.FindChildByType("block"); body != nil {
						visit(body, true)
					}
				}
			case functionTypes[child.Type]:
				if sym := c.extractor.extract(child, tree.Source, model.SymbolKindFunction, config.Name, insideClass); sym != nil {
					symbols = append(symbols, sym)
				}
			case methodTypes[child.Type]:
				if sym := c.extractor.extract(child, tree.Source, model.SymbolKindMethod, config.Name, insideClass); sym != nil {
					symbols = append(symbols, sym)
				}
			case child.Type == "export_statement":
				// JS/TS: unwrap exported declarations.
				visit(child, insideClass)
			}
		}
	}
	visit(tree.Root, false)

	return symbols
}

// symbolChunks turns one symbol into one or more chunks, splitting oversized
// symbols at line boundaries. Every part keeps the full symbol metadata.
func (c *CodeChunker) symbolChunks(file *FileInput, sym *Symbol, lines []string, imports []string, nextIndex *int) []model.Chunk {
	start := sym.StartLine - 1
	end := sym.EndLine
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return nil
	}

	text := strings.Join(lines[start:end], "\n")
	if len(text) <= MaxChunkChars {
		return []model.Chunk{c.buildChunk(file, sym, text, sym.StartLine, sym.EndLine, imports, nextIndex)}
	}

	// Split at line boundaries, packing lines until the budget is reached.
	var chunks []model.Chunk
	partStart := start
	partLen := 0
	for i := start; i < end; i++ {
		lineLen := len(lines[i]) + 1
		if partLen > 0 && partLen+lineLen > MaxChunkChars {
			partText := strings.Join(lines[partStart:i], "\n")
			chunks = append(chunks, c.buildChunk(file, sym, partText, partStart+1, i, imports, nextIndex))
			partStart = i
			partLen = 0
		}
		partLen += lineLen
	}
	if partStart < end {
		partText := strings.Join(lines[partStart:end], "\n")
		chunks = append(chunks, c.buildChunk(file, sym, partText, partStart+1, end, imports, nextIndex))
	}
	return chunks
}

func (c *CodeChunker) buildChunk(file *FileInput, sym *Symbol, text string, startLine, endLine int, imports []string, nextIndex *int) model.Chunk {
	index := *nextIndex
	*nextIndex++

	return model.Chunk{
		ID:         model.ChunkID(file.Path, index),
		Text:       text,
		TokenCount: estimateTokens(text),
		Index:      index,
		Metadata: model.ChunkMetadata{
			Source:     file.Path,
			SourceType: file.SourceType,
			Language:   file.Language,
			SymbolName: sym.Name,
			SymbolKind: sym.Kind,
			StartLine:  startLine,
			EndLine:    endLine,
			Docstring:  sym.Docstring,
			Parameters: sym.Parameters,
			ReturnType: sym.ReturnType,
			Decorators: sym.Decorators,
			Imports:    imports,
		},
	}
}

// chunkByLines is the fallback for unsupported or unparseable files:
// fixed-size line windows with no symbol metadata.
func (c *CodeChunker) chunkByLines(file *FileInput) []model.Chunk {
	lines := strings.Split(string(file.Content), "\n")

	var chunks []model.Chunk
	index := 0
	partStart := 0
	partLen := 0
	flush := func(endExclusive int) {
		text := strings.Join(lines[partStart:endExclusive], "\n")
		if strings.TrimSpace(text) == "" {
			partStart = endExclusive
			partLen = 0
			return
		}
		chunks = append(chunks, model.Chunk{
			ID:         model.ChunkID(file.Path, index),
			Text:       text,
			TokenCount: estimateTokens(text),
			Index:      index,
			Metadata: model.ChunkMetadata{
				Source:     file.Path,
				SourceType: file.SourceType,
				Language:   file.Language,
				StartLine:  partStart + 1,
				EndLine:    endExclusive,
			},
		})
		index++
		partStart = endExclusive
		partLen = 0
	}

	for i := range lines {
		lineLen := len(lines[i]) + 1
		if partLen > 0 && partLen+lineLen > MaxChunkChars {
			flush(i)
		}
		partLen += lineLen
	}
	if partStart < len(lines) {
		flush(len(lines))
	}
	return chunks
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
