package model

// Predicates emitted by the deterministic code-metadata extraction pass.
// LLM extraction may add open-vocabulary predicates on top of these.
const (
	PredicateImports   = "imports"
	PredicateContains  = "contains"
	PredicateDefinedIn = "defined_in"
)

// EntityType classifies a triplet subject or object.
type EntityType string

const (
	EntityTypeModule   EntityType = "module"
	EntityTypeClass    EntityType = "class"
	EntityTypeFunction EntityType = "function"
	EntityTypeMethod   EntityType = "method"
	EntityTypeConcept  EntityType = "concept" // LLM-extracted open vocabulary
)

// Triplet links two entities in the knowledge graph and records the chunk
// the relationship was observed in.
type Triplet struct {
	Subject       string     `json:"subject"`
	SubjectType   EntityType `json:"subject_type"`
	Predicate     string     `json:"predicate"`
	Object        string     `json:"object"`
	ObjectType    EntityType `json:"object_type"`
	SourceChunkID string     `json:"source_chunk_id"`
}

// Key returns the dedup key for a triplet. Two triplets with the same key
// describe the same edge from the same chunk.
func (t Triplet) Key() string {
	return t.Subject + "\x00" + t.Predicate + "\x00" + t.Object + "\x00" + t.SourceChunkID
}
