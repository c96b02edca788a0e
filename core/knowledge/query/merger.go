package query

import (
	"sort"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	"github.com/adalundhe/lattice/core/vectorindex"
)

// ResultSource identifies which retrieval phase produced a result.
type ResultSource string

const (
	SourceGraph  ResultSource = "graph"
	SourceVector ResultSource = "vector"
	SourceBoth   ResultSource = "both"
)

// MergedResult is one component in the fused ranking. Graph matches are
// exact and score 1.0; vector-only matches keep their similarity score.
type MergedResult struct {
	ComponentID string       `json:"component_id"`
	Score       float64      `json:"score"`
	Source      ResultSource `json:"source"`

	// Node carries graph metadata when the graph phase saw this
	// component; nil for vector-only results until hydrated.
	Node *componentgraphdb.GraphNode `json:"node,omitempty"`

	// Path is the traversal path for graph matches.
	Path componentgraphdb.Path `json:"-"`
}

const graphExactScore = 1.0

// MergeStrategy selects which phases contribute to the fused ranking.
type MergeStrategy string

const (
	// StrategyHybrid fuses both phases with exact-match precedence.
	StrategyHybrid MergeStrategy = "hybrid"
	// StrategyGraphOnly ranks only structural matches.
	StrategyGraphOnly MergeStrategy = "graph-only"
	// StrategyVectorOnly ranks only similarity matches.
	StrategyVectorOnly MergeStrategy = "vector-only"
)

// ResultMerger fuses graph and vector phase output into one ranking.
type ResultMerger struct {
	// TopN caps the merged result count.
	TopN int
}

// NewResultMerger creates a merger capping output at topN.
func NewResultMerger(topN int) *ResultMerger {
	if topN <= 0 {
		topN = 20
	}
	return &ResultMerger{TopN: topN}
}

// Merge fuses the two phases under the given strategy. A component
// found by the graph scores graphExactScore regardless of any vector
// score for the same id, so structural matches always outrank
// similarity guesses. Ordering is score descending, then component id
// ascending, so identical inputs always produce identical output.
func (m *ResultMerger) Merge(graphMatches []componentgraphdb.GraphMatch, vectorResults []vectorindex.SearchResult, strategy MergeStrategy) []MergedResult {
	switch strategy {
	case StrategyGraphOnly:
		vectorResults = nil
	case StrategyVectorOnly:
		graphMatches = nil
	}

	byID := make(map[string]*MergedResult, len(graphMatches)+len(vectorResults))

	for i := range graphMatches {
		match := graphMatches[i]
		// BFS yields the shortest path first; keep the first occurrence.
		if _, ok := byID[match.Node.ID]; ok {
			continue
		}
		byID[match.Node.ID] = &MergedResult{
			ComponentID: match.Node.ID,
			Score:       graphExactScore,
			Source:      SourceGraph,
			Node:        match.Node,
			Path:        match.Path,
		}
	}

	for _, result := range vectorResults {
		if existing, ok := byID[result.ComponentID]; ok {
			existing.Source = SourceBoth
			continue
		}
		byID[result.ComponentID] = &MergedResult{
			ComponentID: result.ComponentID,
			Score:       result.Score,
			Source:      SourceVector,
		}
	}

	merged := make([]MergedResult, 0, len(byID))
	for _, result := range byID {
		merged = append(merged, *result)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ComponentID < merged[j].ComponentID
	})

	if len(merged) > m.TopN {
		merged = merged[:m.TopN]
	}
	return merged
}
