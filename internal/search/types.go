// Package search implements the five query modes: keyword (BM25), vector,
// hybrid (relative-score fusion), graph (entity traversal), and multi
// (Reciprocal Rank Fusion over all three).
package search

import (
	"github.com/agentbrain/agentbrain/internal/backend"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
	ModeGraph   Mode = "graph"
	ModeMulti   Mode = "multi"
)

// Valid reports whether the mode is one of the five supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeKeyword, ModeVector, ModeHybrid, ModeGraph, ModeMulti:
		return true
	}
	return false
}

const (
	// HybridAlpha weights the vector contribution in hybrid fusion:
	// final = alpha*vector + (1-alpha)*keyword.
	HybridAlpha = 0.5

	// RRFConstant is the smoothing parameter k in 1/(k+rank). k=60 is the
	// standard cross-domain default.
	RRFConstant = 60

	// DefaultGraphDepth is the traversal depth when a request does not
	// specify one.
	DefaultGraphDepth = 2

	// MaxGraphDepth bounds graph traversal.
	MaxGraphDepth = 4
)

// Request is one search invocation.
type Request struct {
	Query      string                 `json:"query"`
	Mode       Mode                   `json:"mode"`
	TopK       int                    `json:"top_k"`
	GraphDepth int                    `json:"graph_depth,omitempty"`
	MinScore   float64                `json:"min_score,omitempty"` // vector leg threshold, 0 disables
	Filters    *backend.SearchFilters `json:"filters,omitempty"`
}

// clampDepth applies the default and the bound.
func clampDepth(depth int) int {
	if depth <= 0 {
		return DefaultGraphDepth
	}
	if depth > MaxGraphDepth {
		return MaxGraphDepth
	}
	return depth
}
