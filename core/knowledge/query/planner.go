// Package query implements hybrid retrieval over the component graph
// and vector index: a planner that maps natural-language questions onto
// graph traversals, parallel phase execution with per-phase deadlines,
// precedence-based merging, and fallback handling when a store fails.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/lattice/core/componentgraphdb"
)

const (
	planCacheSize = 512

	// reindexComponentLimit bounds how many component names the
	// recognition index holds. Corpora past this size still answer
	// through the vector phase.
	reindexComponentLimit = 50_000
)

// QueryPlan is the planner's reading of a natural-language question:
// which component (if any) anchors a graph traversal, which
// relationships to follow, and the text to embed for the vector phase.
type QueryPlan struct {
	RawQuery string `json:"raw_query"`

	// Graph is the traversal to run, or nil when no known entity was
	// recognized. A nil Graph short-circuits the graph phase entirely;
	// it is not an error.
	Graph *componentgraphdb.TraversalSpec `json:"graph,omitempty"`

	// VectorText is the text embedded for the semantic phase. Always
	// set, even when no entity was recognized.
	VectorText string `json:"vector_text"`

	// MatchedEntity is the recognized component name, for diagnostics.
	MatchedEntity string `json:"matched_entity,omitempty"`
}

// HasGraphPhase reports whether the plan includes a graph traversal.
func (p *QueryPlan) HasGraphPhase() bool {
	return p.Graph != nil && !p.Graph.IsEmpty()
}

// relationKeywords maps question vocabulary onto edge types. A query
// mentioning none of these traverses all edge types.
var relationKeywords = map[string]componentgraphdb.EdgeType{
	"property":     componentgraphdb.EdgeTypeHasProperty,
	"properties":   componentgraphdb.EdgeTypeHasProperty,
	"prop":         componentgraphdb.EdgeTypeHasProperty,
	"props":        componentgraphdb.EdgeTypeHasProperty,
	"option":       componentgraphdb.EdgeTypeHasOption,
	"options":      componentgraphdb.EdgeTypeHasOption,
	"value":        componentgraphdb.EdgeTypeHasOption,
	"values":       componentgraphdb.EdgeTypeHasOption,
	"default":      componentgraphdb.EdgeTypeHasDefault,
	"defaults":     componentgraphdb.EdgeTypeHasDefault,
	"token":        componentgraphdb.EdgeTypeUsesToken,
	"tokens":       componentgraphdb.EdgeTypeUsesToken,
	"color":        componentgraphdb.EdgeTypeUsesToken,
	"spacing":      componentgraphdb.EdgeTypeUsesToken,
	"guideline":    componentgraphdb.EdgeTypeHasGuideline,
	"guidelines":   componentgraphdb.EdgeTypeHasGuideline,
	"usage":        componentgraphdb.EdgeTypeHasGuideline,
	"accessible":   componentgraphdb.EdgeTypeHasGuideline,
	"example":      componentgraphdb.EdgeTypeHasExample,
	"examples":     componentgraphdb.EdgeTypeHasExample,
	"snippet":      componentgraphdb.EdgeTypeHasExample,
	"purpose":      componentgraphdb.EdgeTypeHasPurpose,
	"depends":      componentgraphdb.EdgeTypeDependsOn,
	"dependency":   componentgraphdb.EdgeTypeDependsOn,
	"dependencies": componentgraphdb.EdgeTypeDependsOn,
	"uses":         componentgraphdb.EdgeTypeDependsOn,
	"requires":     componentgraphdb.EdgeTypeDependsOn,
}

// Planner maps natural-language queries onto QueryPlans. Component
// names are recognized against a bleve index rebuilt from the graph on
// Reindex; plans for repeated queries come from an LRU cache.
type Planner struct {
	graph  *componentgraphdb.GraphDB
	nodes  *componentgraphdb.NodeStore
	logger *slog.Logger

	mu        sync.RWMutex
	nameIndex bleve.Index
	names     map[string]string // lowercase name -> component id

	plans *lru.Cache[string, *QueryPlan]
}

// NewPlanner creates a Planner over the given graph. Call Reindex
// before planning; an unindexed planner recognizes no entities.
func NewPlanner(graph *componentgraphdb.GraphDB, logger *slog.Logger) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	plans, err := lru.New[string, *QueryPlan](planCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	return &Planner{
		graph:  graph,
		nodes:  componentgraphdb.NewNodeStore(graph),
		logger: logger,
		names:  make(map[string]string),
		plans:  plans,
	}, nil
}

// Reindex rebuilds the entity-recognition index from the component
// nodes currently in the graph. Call after ingestion batches.
func (p *Planner) Reindex() error {
	components, err := p.nodes.GetNodesByType(componentgraphdb.NodeTypeComponent, reindexComponentLimit)
	if err != nil {
		return fmt.Errorf("failed to list components: %w", err)
	}

	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return fmt.Errorf("failed to create name index: %w", err)
	}

	names := make(map[string]string, len(components))
	for _, component := range components {
		if component.Placeholder {
			continue
		}
		names[strings.ToLower(component.Name)] = component.ID
		doc := map[string]any{
			"name":        component.Name,
			"category":    component.Category,
			"description": component.Description,
		}
		if err := index.Index(component.ID, doc); err != nil {
			return fmt.Errorf("failed to index component %s: %w", component.ID, err)
		}
	}

	p.mu.Lock()
	old := p.nameIndex
	p.nameIndex = index
	p.names = names
	p.plans.Purge()
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}

	p.logger.Debug("planner reindexed", "components", len(names))
	return nil
}

// Plan analyzes a natural-language query. It never fails on
// unrecognized input: a query naming no known component yields a plan
// with no graph phase.
func (p *Planner) Plan(ctx context.Context, rawQuery string) (*QueryPlan, error) {
	trimmed := strings.TrimSpace(rawQuery)
	if trimmed == "" {
		return &QueryPlan{RawQuery: rawQuery, VectorText: rawQuery}, nil
	}

	if cached, ok := p.plans.Get(trimmed); ok {
		return cached, nil
	}

	plan := &QueryPlan{
		RawQuery:   rawQuery,
		VectorText: trimmed,
	}

	entityID, entityName := p.recognizeEntity(ctx, trimmed)
	if entityID != "" {
		plan.MatchedEntity = entityName
		plan.Graph = &componentgraphdb.TraversalSpec{
			RootID:    entityID,
			EdgeTypes: recognizeRelations(trimmed),
			Direction: componentgraphdb.DirectionOutgoing,
		}
	}

	p.plans.Add(trimmed, plan)
	return plan, nil
}

// recognizeEntity resolves the query to a component id. Exact name
// containment wins, then glob patterns, then a fuzzy bleve match.
func (p *Planner) recognizeEntity(ctx context.Context, query string) (string, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	lower := strings.ToLower(query)

	if id, name := p.matchByName(lower); id != "" {
		return id, name
	}
	if id, name := p.matchByGlob(query); id != "" {
		return id, name
	}
	return p.matchByIndex(ctx, query)
}

func (p *Planner) matchByName(lowerQuery string) (string, string) {
	// Longest name first so "date picker" beats "date".
	bestName := ""
	for name := range p.names {
		if len(name) > len(bestName) && containsWord(lowerQuery, name) {
			bestName = name
		}
	}
	if bestName == "" {
		return "", ""
	}
	return p.names[bestName], bestName
}

// matchByGlob handles queries carrying an explicit wildcard pattern,
// e.g. "properties of Nav*".
func (p *Planner) matchByGlob(query string) (string, string) {
	for _, field := range strings.Fields(query) {
		if !strings.ContainsAny(field, "*?") {
			continue
		}
		pattern, err := glob.Compile(strings.ToLower(field))
		if err != nil {
			continue
		}
		for name, id := range p.names {
			if pattern.Match(name) {
				return id, name
			}
		}
	}
	return "", ""
}

func (p *Planner) matchByIndex(ctx context.Context, query string) (string, string) {
	if p.nameIndex == nil {
		return "", ""
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("name")
	req := bleve.NewSearchRequestOptions(match, 1, 0, false)

	result, err := p.nameIndex.SearchInContext(ctx, req)
	if err != nil || len(result.Hits) == 0 {
		return "", ""
	}

	hit := result.Hits[0]
	for name, id := range p.names {
		if id == hit.ID {
			return id, name
		}
	}
	return hit.ID, ""
}

// recognizeRelations extracts edge-type intents from query vocabulary.
func recognizeRelations(query string) []componentgraphdb.EdgeType {
	seen := make(map[componentgraphdb.EdgeType]bool)
	var edgeTypes []componentgraphdb.EdgeType

	for _, token := range strings.Fields(strings.ToLower(query)) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if edgeType, ok := relationKeywords[token]; ok && !seen[edgeType] {
			seen[edgeType] = true
			edgeTypes = append(edgeTypes, edgeType)
		}
	}
	return edgeTypes
}

// containsWord reports whether haystack contains needle on word
// boundaries, so "card" does not match inside "discard".
func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], needle)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(needle)

		beforeOK := start == 0 || !isWordRune(rune(haystack[start-1]))
		afterOK := end == len(haystack) || !isWordRune(rune(haystack[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Close releases the planner's index.
func (p *Planner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nameIndex != nil {
		return p.nameIndex.Close()
	}
	return nil
}
