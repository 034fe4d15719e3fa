package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/model"
)

func codeChunk(id, source, symbol string, kind model.SymbolKind, startLine, endLine int, imports []string) model.Chunk {
	return model.Chunk{
		ID: id,
		Metadata: model.ChunkMetadata{
			Source:     source,
			SourceType: model.SourceTypeCode,
			SymbolName: symbol,
			SymbolKind: kind,
			StartLine:  startLine,
			EndLine:    endLine,
			Imports:    imports,
		},
	}
}

func TestMetadataExtractorImportsAndDefinitions(t *testing.T) {
	chunks := []model.Chunk{
		codeChunk("c0", "pkg/auth.py", "login", model.SymbolKindFunction, 5, 12, []string{"jwt", "os"}),
	}

	triplets := NewMetadataExtractor().Extract(chunks)
	require.Len(t, triplets, 3)

	assert.Equal(t, model.Triplet{
		Subject: "pkg/auth", SubjectType: model.EntityTypeModule,
		Predicate: model.PredicateImports,
		Object:    "jwt", ObjectType: model.EntityTypeModule,
		SourceChunkID: "c0",
	}, triplets[0])

	assert.Equal(t, "os", triplets[1].Object)

	assert.Equal(t, model.Triplet{
		Subject: "login", SubjectType: model.EntityTypeFunction,
		Predicate: model.PredicateDefinedIn,
		Object:    "pkg/auth", ObjectType: model.EntityTypeModule,
		SourceChunkID: "c0",
	}, triplets[2])
}

func TestMetadataExtractorClassContainsMethods(t *testing.T) {
	chunks := []model.Chunk{
		codeChunk("c0", "store.py", "Store", model.SymbolKindClass, 1, 30, nil),
		codeChunk("c1", "store.py", "put", model.SymbolKindMethod, 5, 12, nil),
		codeChunk("c2", "store.py", "get", model.SymbolKindMethod, 14, 20, nil),
		codeChunk("c3", "store.py", "helper", model.SymbolKindFunction, 35, 40, nil),
	}

	triplets := NewMetadataExtractor().Extract(chunks)

	var contains []model.Triplet
	for _, tr := range triplets {
		if tr.Predicate == model.PredicateContains {
			contains = append(contains, tr)
		}
	}
	require.Len(t, contains, 2)
	assert.Equal(t, "Store", contains[0].Subject)
	assert.Equal(t, "put", contains[0].Object)
	assert.Equal(t, "get", contains[1].Object)
}

func TestMetadataExtractorMethodOutsideClassSpan(t *testing.T) {
	chunks := []model.Chunk{
		codeChunk("c0", "a.py", "Store", model.SymbolKindClass, 1, 10, nil),
		codeChunk("c1", "a.py", "orphan", model.SymbolKindMethod, 20, 25, nil),
	}

	triplets := NewMetadataExtractor().Extract(chunks)
	for _, tr := range triplets {
		assert.NotEqual(t, model.PredicateContains, tr.Predicate)
	}
}

func TestMetadataExtractorEmptyInput(t *testing.T) {
	assert.Empty(t, NewMetadataExtractor().Extract(nil))
}

type fakeSummarizer struct {
	response string
	err      error
}

func (f *fakeSummarizer) Complete(context.Context, string) (string, error) {
	return f.response, f.err
}
func (f *fakeSummarizer) ModelName() string              { return "fake" }
func (f *fakeSummarizer) Available(context.Context) bool { return true }
func (f *fakeSummarizer) Close() error                   { return nil }

func TestLLMExtractorParsesAndDeduplicates(t *testing.T) {
	summarizer := &fakeSummarizer{response: `auth|module|imports|jwt|module
Cache|class|uses|redis|concept
malformed line without pipes
a|b|c
||empty|subject|x
`}
	chunk := model.Chunk{ID: "c1", Text: "import jwt"}
	existing := []model.Triplet{{
		Subject: "auth", Predicate: "imports", Object: "jwt", SourceChunkID: "c1",
	}}

	triplets := NewLLMExtractor(summarizer, nil).Extract(context.Background(), chunk, existing)
	require.Len(t, triplets, 1)
	assert.Equal(t, "Cache", triplets[0].Subject)
	assert.Equal(t, model.EntityTypeClass, triplets[0].SubjectType)
	assert.Equal(t, "uses", triplets[0].Predicate)
	assert.Equal(t, model.EntityTypeConcept, triplets[0].ObjectType)
	assert.Equal(t, "c1", triplets[0].SourceChunkID)
}

func TestLLMExtractorCapsTriplets(t *testing.T) {
	var response string
	for i := 0; i < MaxTripletsPerChunk+10; i++ {
		response += string(rune('a'+i%26)) + string(rune('0'+i/26)) + "|concept|relates|target|concept\n"
	}
	summarizer := &fakeSummarizer{response: response}

	triplets := NewLLMExtractor(summarizer, nil).Extract(context.Background(), model.Chunk{ID: "c1"}, nil)
	assert.Len(t, triplets, MaxTripletsPerChunk)
}

func TestLLMExtractorNilSummarizerAndErrors(t *testing.T) {
	assert.Nil(t, NewLLMExtractor(nil, nil).Extract(context.Background(), model.Chunk{ID: "c1"}, nil))

	failing := &fakeSummarizer{err: assert.AnError}
	assert.Nil(t, NewLLMExtractor(failing, nil).Extract(context.Background(), model.Chunk{ID: "c1"}, nil))
}
