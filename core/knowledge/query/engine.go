package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	lerrors "github.com/adalundhe/lattice/core/errors"
	"github.com/adalundhe/lattice/core/vectorindex"
)

// =============================================================================
// Engine Configuration
// =============================================================================

// EngineConfig controls phase deadlines and result shaping.
type EngineConfig struct {
	// GraphTimeout bounds the graph phase independently of the outer
	// deadline.
	GraphTimeout time.Duration `yaml:"graph_timeout"`

	// VectorTimeout bounds the vector phase.
	VectorTimeout time.Duration `yaml:"vector_timeout"`

	// QueryTimeout is the outer deadline for the whole query.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// TopN caps merged results per response.
	TopN int `yaml:"top_n"`

	// Strategy selects the merge strategy; hybrid unless overridden.
	Strategy MergeStrategy `yaml:"strategy"`

	// CacheEnabled toggles the response cache.
	CacheEnabled bool `yaml:"cache_enabled"`

	// CacheTTL bounds how long a cached response may be served.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GraphTimeout:  300 * time.Millisecond,
		VectorTimeout: 300 * time.Millisecond,
		QueryTimeout:  800 * time.Millisecond,
		TopN:          20,
		Strategy:      StrategyHybrid,
		CacheEnabled:  true,
		CacheTTL:      30 * time.Second,
	}
}

func (c *EngineConfig) normalize() {
	defaults := DefaultEngineConfig()
	if c.GraphTimeout <= 0 {
		c.GraphTimeout = defaults.GraphTimeout
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = defaults.VectorTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaults.QueryTimeout
	}
	if c.TopN <= 0 {
		c.TopN = defaults.TopN
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.CacheTTL
	}
	if c.Strategy == "" {
		c.Strategy = defaults.Strategy
	}
}

// =============================================================================
// Response Types
// =============================================================================

// AnswerComponent is one component in a structured response.
type AnswerComponent struct {
	ComponentID string       `json:"component_id"`
	Name        string       `json:"name,omitempty"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description,omitempty"`
	Score       float64      `json:"score"`
	Source      ResultSource `json:"source"`

	// Related holds the sub-nodes the graph traversal surfaced for
	// this component: properties, guidelines, tokens, examples.
	Related []RelatedNode `json:"related,omitempty"`
}

// RelatedNode is a non-component node attached to an answer.
type RelatedNode struct {
	NodeType string `json:"node_type"`
	Name     string `json:"name,omitempty"`
	Content  string `json:"content,omitempty"`
	Depth    int    `json:"depth"`
}

// StructuredResponse is the engine's answer to one query.
type StructuredResponse struct {
	// QueryID correlates the response with phase logs. Cached
	// responses keep the id of the query that produced them.
	QueryID string `json:"query_id"`

	Query      string            `json:"query"`
	Components []AnswerComponent `json:"components"`

	// FallbackUsed marks responses served from a single store while
	// the other was failing.
	FallbackUsed bool `json:"fallback_used"`

	// Partial marks responses assembled after the outer deadline or a
	// capped traversal; results are valid but possibly incomplete.
	Partial bool `json:"partial"`

	// Diagnostic carries phase errors and planner notes for operators.
	Diagnostic  map[string]string `json:"diagnostic,omitempty"`
	ElapsedTime time.Duration     `json:"elapsed_time"`
}

// =============================================================================
// Phase Metrics
// =============================================================================

// PhaseMetrics times one query's phases.
type PhaseMetrics struct {
	GraphLatency  time.Duration `json:"graph_latency"`
	VectorLatency time.Duration `json:"vector_latency"`
	MergeLatency  time.Duration `json:"merge_latency"`
	TotalLatency  time.Duration `json:"total_latency"`
	TimedOut      bool          `json:"timed_out"`
	CacheHit      bool          `json:"cache_hit"`
}

// =============================================================================
// Query Engine
// =============================================================================

// Engine coordinates the planner, graph traverser, vector index, and
// merger into a single Query call. The two retrieval phases run
// concurrently, each under its own deadline, and are joined at a
// barrier; an expired outer deadline yields a partial response rather
// than an error.
type Engine struct {
	planner   *Planner
	traverser *componentgraphdb.GraphTraverser
	nodes     *componentgraphdb.NodeStore
	index     *vectorindex.Index
	embedder  vectorindex.Embedder
	merger    *ResultMerger
	fallback  *FallbackHandler
	config    EngineConfig
	cache     *ristretto.Cache
	logger    *slog.Logger
}

// NewEngine wires an engine over an open graph and vector index.
func NewEngine(
	graph *componentgraphdb.GraphDB,
	index *vectorindex.Index,
	embedder vectorindex.Embedder,
	config EngineConfig,
	logger *slog.Logger,
) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config.normalize()

	planner, err := NewPlanner(graph, logger)
	if err != nil {
		return nil, err
	}
	if err := planner.Reindex(); err != nil {
		return nil, err
	}

	engine := &Engine{
		planner:   planner,
		traverser: componentgraphdb.NewGraphTraverser(graph),
		nodes:     componentgraphdb.NewNodeStore(graph),
		index:     index,
		embedder:  embedder,
		merger:    NewResultMerger(config.TopN),
		fallback:  NewFallbackHandler(logger),
		config:    config,
		logger:    logger,
	}

	if config.CacheEnabled {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     1 << 24,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create response cache: %w", err)
		}
		engine.cache = cache
	}

	return engine, nil
}

// Planner exposes the engine's planner, mainly so ingestion can
// trigger a reindex after a batch.
func (e *Engine) Planner() *Planner {
	return e.planner
}

// FallbackState returns the current degradation state.
func (e *Engine) FallbackState() FallbackState {
	return e.fallback.State()
}

// Close releases the engine's planner index and cache.
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	return e.planner.Close()
}

// Query answers a natural-language question about the component
// corpus. It returns an error only for invalid input, caller
// cancellation, or full failure of both stores; store trouble on one
// side degrades to the other.
func (e *Engine) Query(ctx context.Context, rawQuery string) (*StructuredResponse, error) {
	response, _, err := e.QueryWithMetrics(ctx, rawQuery)
	return response, err
}

// QueryWithMetrics is Query plus per-phase timings.
func (e *Engine) QueryWithMetrics(ctx context.Context, rawQuery string) (*StructuredResponse, *PhaseMetrics, error) {
	start := time.Now()
	metrics := &PhaseMetrics{}

	if err := ctx.Err(); err != nil {
		return nil, metrics, fmt.Errorf("query canceled: %w", err)
	}

	if cached := e.cachedResponse(rawQuery); cached != nil {
		metrics.CacheHit = true
		metrics.TotalLatency = time.Since(start)
		return cached, metrics, nil
	}

	queryID := uuid.NewString()
	plan, err := e.planner.Plan(ctx, rawQuery)
	if err != nil {
		return nil, metrics, lerrors.WrapWithTier(lerrors.TierPermanent, "failed to plan query", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()

	graphOutcome, vectorOutcome := e.executePhases(ctx, plan, metrics)

	select {
	case <-ctx.Done():
		metrics.TimedOut = true
	default:
	}

	resolution := e.fallback.Resolve(
		PhaseOutcome{Err: graphOutcome.err, Ran: graphOutcome.ran},
		PhaseOutcome{Err: vectorOutcome.err, Ran: vectorOutcome.ran},
	)
	if resolution.Err != nil {
		return nil, metrics, resolution.Err
	}

	mergeStart := time.Now()
	merged := e.merger.Merge(componentMatches(graphOutcome.matches), vectorOutcome.results, e.config.Strategy)
	components := e.hydrate(merged, graphOutcome.matches)
	metrics.MergeLatency = time.Since(mergeStart)

	response := &StructuredResponse{
		QueryID:      queryID,
		Query:        rawQuery,
		Components:   components,
		FallbackUsed: resolution.FallbackUsed,
		Partial:      metrics.TimedOut || graphOutcome.partial,
		Diagnostic:   e.buildDiagnostic(plan, graphOutcome, vectorOutcome, resolution),
		ElapsedTime:  time.Since(start),
	}
	metrics.TotalLatency = response.ElapsedTime

	e.logger.Debug("query answered",
		"query_id", queryID,
		"components", len(components),
		"partial", response.Partial,
		"fallback_used", response.FallbackUsed,
		"elapsed", response.ElapsedTime)

	if !response.Partial && !response.FallbackUsed {
		e.cacheResponse(rawQuery, response)
	}
	return response, metrics, nil
}

// =============================================================================
// Phase Execution
// =============================================================================

type graphPhaseOutcome struct {
	matches []componentgraphdb.GraphMatch
	partial bool
	err     error
	ran     bool
	latency time.Duration
}

type vectorPhaseOutcome struct {
	results []vectorindex.SearchResult
	err     error
	ran     bool
	latency time.Duration
}

// executePhases runs the graph and vector phases concurrently and
// joins them. Each phase carries its own deadline derived from the
// outer context, so a slow graph store cannot starve the vector phase.
func (e *Engine) executePhases(ctx context.Context, plan *QueryPlan, metrics *PhaseMetrics) (graphPhaseOutcome, vectorPhaseOutcome) {
	var wg sync.WaitGroup
	var graphOutcome graphPhaseOutcome
	var vectorOutcome vectorPhaseOutcome

	if plan.HasGraphPhase() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			graphOutcome = e.runGraphPhase(ctx, plan)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		vectorOutcome = e.runVectorPhase(ctx, plan)
	}()

	wg.Wait()

	metrics.GraphLatency = graphOutcome.latency
	metrics.VectorLatency = vectorOutcome.latency
	return graphOutcome, vectorOutcome
}

func (e *Engine) runGraphPhase(ctx context.Context, plan *QueryPlan) graphPhaseOutcome {
	start := time.Now()
	phaseCtx, cancel := context.WithTimeout(ctx, e.config.GraphTimeout)
	defer cancel()

	spec := *plan.Graph
	spec.MaxResults = e.config.TopN * 3

	matches, partial, err := e.traverser.Query(phaseCtx, &spec)
	outcome := graphPhaseOutcome{
		matches: matches,
		partial: partial,
		ran:     true,
		latency: time.Since(start),
	}
	if err != nil {
		outcome.err = lerrors.WrapWithTier(lerrors.TierDegrading, "graph phase failed", err)
		e.logger.Warn("graph phase failed", "error", err)
	}
	return outcome
}

func (e *Engine) runVectorPhase(ctx context.Context, plan *QueryPlan) vectorPhaseOutcome {
	start := time.Now()
	phaseCtx, cancel := context.WithTimeout(ctx, e.config.VectorTimeout)
	defer cancel()

	outcome := vectorPhaseOutcome{ran: true}

	embedding, err := e.embedder.Embed(phaseCtx, plan.VectorText)
	if err != nil {
		outcome.err = lerrors.WrapWithTier(lerrors.TierDegrading, "embedding failed", err)
		outcome.latency = time.Since(start)
		return outcome
	}

	results, err := e.index.Search(phaseCtx, embedding, e.config.TopN*3)
	outcome.results = results
	outcome.latency = time.Since(start)
	if err != nil {
		outcome.err = lerrors.WrapWithTier(lerrors.TierDegrading, "vector phase failed", err)
		e.logger.Warn("vector phase failed", "error", err)
	}
	return outcome
}

// =============================================================================
// Response Assembly
// =============================================================================

// componentMatches filters a traversal down to its component nodes.
// Sub-nodes still reach the response through the Related list.
func componentMatches(matches []componentgraphdb.GraphMatch) []componentgraphdb.GraphMatch {
	filtered := make([]componentgraphdb.GraphMatch, 0, len(matches))
	for _, match := range matches {
		if match.Node.NodeType == componentgraphdb.NodeTypeComponent {
			filtered = append(filtered, match)
		}
	}
	return filtered
}

// hydrate turns merged results into answer components. The traversal
// surfaces both component nodes and their sub-nodes; sub-nodes fold
// into the Related list of the component that anchored the traversal.
func (e *Engine) hydrate(merged []MergedResult, graphMatches []componentgraphdb.GraphMatch) []AnswerComponent {
	components := make([]AnswerComponent, 0, len(merged))
	var missing []string

	for _, result := range merged {
		answer := AnswerComponent{
			ComponentID: result.ComponentID,
			Score:       result.Score,
			Source:      result.Source,
		}
		if result.Node != nil {
			answer.Name = result.Node.Name
			answer.Category = result.Node.Category
			answer.Description = result.Node.Description
			answer.Related = relatedNodes(result.ComponentID, graphMatches)
		} else {
			missing = append(missing, result.ComponentID)
		}
		components = append(components, answer)
	}

	e.fillVectorOnlyMetadata(components, missing)
	return components
}

// fillVectorOnlyMetadata batch-loads graph metadata for results the
// vector phase alone produced. A vector hit whose component has since
// left the graph keeps its bare id.
func (e *Engine) fillVectorOnlyMetadata(components []AnswerComponent, missing []string) {
	if len(missing) == 0 {
		return
	}
	nodes, err := e.nodes.GetNodesBatch(missing)
	if err != nil {
		e.logger.Warn("failed to hydrate vector results", "error", err)
		return
	}
	for i := range components {
		if node, ok := nodes[components[i].ComponentID]; ok && components[i].Name == "" {
			components[i].Name = node.Name
			components[i].Category = node.Category
			components[i].Description = node.Description
		}
	}
}

func relatedNodes(componentID string, matches []componentgraphdb.GraphMatch) []RelatedNode {
	var related []RelatedNode
	for _, match := range matches {
		node := match.Node
		if node.NodeType == componentgraphdb.NodeTypeComponent {
			continue
		}
		if node.ComponentID != componentID {
			// Shared tokens carry no owner; attach one only when the
			// traversal reached it through this component.
			if node.NodeType != componentgraphdb.NodeTypeDesignToken || !tokenReachedVia(match.Path, componentID) {
				continue
			}
		}
		related = append(related, RelatedNode{
			NodeType: string(node.NodeType),
			Name:     node.Name,
			Content:  node.Content,
			Depth:    match.Depth,
		})
	}
	return related
}

// tokenReachedVia reports whether the final step of a token match's
// path came from the given component or one of its sub-nodes.
func tokenReachedVia(path componentgraphdb.Path, componentID string) bool {
	n := len(path.Nodes)
	if n < 2 {
		return false
	}
	prev := path.Nodes[n-2]
	return prev.ID == componentID || prev.ComponentID == componentID
}

func (e *Engine) buildDiagnostic(plan *QueryPlan, graph graphPhaseOutcome, vector vectorPhaseOutcome, resolution Resolution) map[string]string {
	diagnostic := make(map[string]string)
	if plan.MatchedEntity != "" {
		diagnostic["matched_entity"] = plan.MatchedEntity
	}
	if !plan.HasGraphPhase() {
		diagnostic["graph_phase"] = "skipped: no entity recognized"
	}
	if graph.err != nil {
		diagnostic["graph_error"] = graph.err.Error()
	}
	if vector.err != nil {
		diagnostic["vector_error"] = vector.err.Error()
	}
	if resolution.FallbackUsed {
		diagnostic["fallback_state"] = resolution.State.String()
	}
	if len(diagnostic) == 0 {
		return nil
	}
	return diagnostic
}

// =============================================================================
// Response Cache
// =============================================================================

func (e *Engine) cachedResponse(rawQuery string) *StructuredResponse {
	if e.cache == nil {
		return nil
	}
	value, ok := e.cache.Get(rawQuery)
	if !ok {
		return nil
	}
	response, ok := value.(*StructuredResponse)
	if !ok {
		return nil
	}
	return response
}

func (e *Engine) cacheResponse(rawQuery string, response *StructuredResponse) {
	if e.cache == nil {
		return
	}
	cost := int64(len(response.Components)*64 + len(rawQuery))
	e.cache.SetWithTTL(rawQuery, response, cost, e.config.CacheTTL)
}
