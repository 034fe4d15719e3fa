package graph

import (
	"path/filepath"
	"strings"

	"github.com/agentbrain/agentbrain/internal/model"
)

// MetadataExtractor derives deterministic triplets from the AST facts
// already present on code chunks: module imports, class membership, and
// symbol definitions.
type MetadataExtractor struct{}

func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{}
}

// Extract produces triplets for one file's chunks. Chunks must be in source
// order, as produced by the code chunker; class membership is derived from
// line containment.
func (e *MetadataExtractor) Extract(chunks []model.Chunk) []model.Triplet {
	if len(chunks) == 0 {
		return nil
	}

	module := ModuleName(chunks[0].Metadata.Source)
	seen := make(map[string]bool)
	var triplets []model.Triplet

	add := func(t model.Triplet) {
		if key := t.Key(); !seen[key] {
			seen[key] = true
			triplets = append(triplets, t)
		}
	}

	// Imports are file-level facts; emit them once, from the first chunk
	// that carries them.
	for _, c := range chunks {
		if len(c.Metadata.Imports) == 0 {
			continue
		}
		for _, imp := range c.Metadata.Imports {
			add(model.Triplet{
				Subject:       module,
				SubjectType:   model.EntityTypeModule,
				Predicate:     model.PredicateImports,
				Object:        imp,
				ObjectType:    model.EntityTypeModule,
				SourceChunkID: c.ID,
			})
		}
		break
	}

	// Track the enclosing class by line containment for contains edges.
	type classSpan struct {
		name    string
		endLine int
	}
	var currentClass *classSpan

	for _, c := range chunks {
		meta := c.Metadata
		if meta.SymbolName == "" {
			continue
		}

		if currentClass != nil && meta.StartLine > currentClass.endLine {
			currentClass = nil
		}

		switch meta.SymbolKind {
		case model.SymbolKindClass:
			currentClass = &classSpan{name: meta.SymbolName, endLine: meta.EndLine}
			add(model.Triplet{
				Subject:       meta.SymbolName,
				SubjectType:   model.EntityTypeClass,
				Predicate:     model.PredicateDefinedIn,
				Object:        module,
				ObjectType:    model.EntityTypeModule,
				SourceChunkID: c.ID,
			})
		case model.SymbolKindMethod:
			if currentClass != nil {
				add(model.Triplet{
					Subject:       currentClass.name,
					SubjectType:   model.EntityTypeClass,
					Predicate:     model.PredicateContains,
					Object:        meta.SymbolName,
					ObjectType:    model.EntityTypeMethod,
					SourceChunkID: c.ID,
				})
			}
			add(model.Triplet{
				Subject:       meta.SymbolName,
				SubjectType:   model.EntityTypeMethod,
				Predicate:     model.PredicateDefinedIn,
				Object:        module,
				ObjectType:    model.EntityTypeModule,
				SourceChunkID: c.ID,
			})
		case model.SymbolKindFunction:
			add(model.Triplet{
				Subject:       meta.SymbolName,
				SubjectType:   model.EntityTypeFunction,
				Predicate:     model.PredicateDefinedIn,
				Object:        module,
				ObjectType:    model.EntityTypeModule,
				SourceChunkID: c.ID,
			})
		}
	}

	return triplets
}

// ModuleName derives the entity name for a file: the relative path with the
// extension stripped, slash-separated.
func ModuleName(source string) string {
	name := strings.TrimSuffix(source, filepath.Ext(source))
	return filepath.ToSlash(name)
}
