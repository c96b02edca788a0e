package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adalundhe/lattice/core/componentgraphdb"
	lerrors "github.com/adalundhe/lattice/core/errors"
	"github.com/adalundhe/lattice/core/vectorindex"
)

const testDimension = 64

func seedCorpus(t *testing.T) (*componentgraphdb.GraphDB, *vectorindex.Index, *vectorindex.HashEmbedder) {
	t.Helper()
	dir := t.TempDir()

	graph, err := componentgraphdb.Open(filepath.Join(dir, "graph.db"))
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { graph.Close() })

	index, err := vectorindex.Open(filepath.Join(dir, "vectors.db"), testDimension, nil)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	embedder := vectorindex.NewHashEmbedder(testDimension)
	store := componentgraphdb.NewComponentStore(graph, nil)

	records := []*componentgraphdb.ComponentRecord{
		{
			Name:        "Button",
			Category:    "actions",
			Description: "Triggers an action when pressed",
			Purpose:     "Primary call to action",
			Properties: []componentgraphdb.PropertyRecord{
				{Name: "variant", Type: "string", Default: "primary", Options: []string{"primary", "secondary"}},
			},
			Guidelines:   []componentgraphdb.GuidelineRecord{{Title: "Label casing", Content: "Use sentence case"}},
			DesignTokens: []string{"color.action.primary"},
		},
		{
			Name:        "DatePicker",
			Category:    "inputs",
			Description: "Lets users choose a calendar date",
			Properties: []componentgraphdb.PropertyRecord{
				{Name: "format", Type: "string", Default: "yyyy-mm-dd"},
			},
		},
		{
			Name:        "Tooltip",
			Category:    "overlays",
			Description: "Shows contextual help on hover",
		},
	}

	ctx := context.Background()
	for _, record := range records {
		if err := store.Upsert(record); err != nil {
			t.Fatalf("Upsert(%s): %v", record.Name, err)
		}
		text := record.Name + " " + record.Description + " " + record.Purpose
		embedding, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed(%s): %v", record.Name, err)
		}
		if err := index.Upsert(ctx, record.ResolvedID(), embedding); err != nil {
			t.Fatalf("index.Upsert(%s): %v", record.Name, err)
		}
	}

	return graph, index, embedder
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	graph, index, embedder := seedCorpus(t)

	config := DefaultEngineConfig()
	config.CacheEnabled = false

	engine, err := NewEngine(graph, index, embedder, config, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestPlannerRecognizesEntityAndRelation(t *testing.T) {
	graph, _, _ := seedCorpus(t)

	planner, err := NewPlanner(graph, nil)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	defer planner.Close()
	if err := planner.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	plan, err := planner.Plan(context.Background(), "What properties does Button have?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.HasGraphPhase() {
		t.Fatal("expected a graph phase for a recognized component")
	}
	if plan.MatchedEntity != "button" {
		t.Errorf("MatchedEntity = %q, want button", plan.MatchedEntity)
	}
	if len(plan.Graph.EdgeTypes) != 1 || plan.Graph.EdgeTypes[0] != componentgraphdb.EdgeTypeHasProperty {
		t.Errorf("EdgeTypes = %v, want [has_property]", plan.Graph.EdgeTypes)
	}
}

func TestPlannerUnrecognizedEntitySkipsGraph(t *testing.T) {
	graph, _, _ := seedCorpus(t)

	planner, err := NewPlanner(graph, nil)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	defer planner.Close()
	if err := planner.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	plan, err := planner.Plan(context.Background(), "zzz qqq xyzzy")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.HasGraphPhase() {
		t.Error("gibberish query should not get a graph phase")
	}
	if plan.VectorText == "" {
		t.Error("vector phase text must still be set")
	}
}

func TestEngineAnswersEntityQuery(t *testing.T) {
	engine := newTestEngine(t)

	response, err := engine.Query(context.Background(), "What properties does Button have?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(response.Components) == 0 {
		t.Fatal("no components in response")
	}

	top := response.Components[0]
	if top.Name != "Button" {
		t.Errorf("top component = %s, want Button", top.Name)
	}
	if top.Score != 1.0 {
		t.Errorf("top score = %f, want 1.0 for a graph match", top.Score)
	}
	if response.FallbackUsed {
		t.Error("FallbackUsed = true with both stores healthy")
	}

	foundProperty := false
	for _, related := range top.Related {
		if related.NodeType == string(componentgraphdb.NodeTypeProperty) && related.Name == "variant" {
			foundProperty = true
		}
	}
	if !foundProperty {
		t.Error("variant property missing from related nodes")
	}
}

func TestEngineVectorOnlyForUnrecognizedQuery(t *testing.T) {
	engine := newTestEngine(t)

	response, err := engine.Query(context.Background(), "choose a calendar date")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(response.Components) == 0 {
		t.Fatal("no components in response")
	}
	if response.FallbackUsed {
		t.Error("skipped graph phase is not a fallback")
	}

	// Semantic overlap should surface the DatePicker.
	found := false
	for _, component := range response.Components {
		if component.Name == "DatePicker" {
			found = true
			if component.Source != SourceVector {
				t.Errorf("DatePicker source = %s, want vector", component.Source)
			}
		}
	}
	if !found {
		t.Error("DatePicker missing from semantic results")
	}
}

type brokenEmbedder struct {
	dimension int
}

func (e *brokenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding backend offline")
}

func (e *brokenEmbedder) Dimension() int { return e.dimension }

func TestEngineGraphFailureFallsBackToVector(t *testing.T) {
	graph, index, embedder := seedCorpus(t)

	config := DefaultEngineConfig()
	config.CacheEnabled = false

	engine, err := NewEngine(graph, index, embedder, config, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	// The planner keeps its name index in memory, so entity recognition
	// survives the store going away; only the traversal fails.
	graph.Close()

	response, err := engine.Query(context.Background(), "What properties does Button have?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !response.FallbackUsed {
		t.Error("FallbackUsed = false after a graph store failure")
	}
	if len(response.Components) == 0 {
		t.Fatal("vector fallback returned no components")
	}

	buttonID := componentgraphdb.ComponentID("Button", "actions")
	found := false
	for _, component := range response.Components {
		if component.ComponentID == buttonID {
			found = true
			if component.Source != SourceVector {
				t.Errorf("Button source = %s, want vector in fallback", component.Source)
			}
		}
	}
	if !found {
		t.Error("Button missing from vector fallback results")
	}
	if response.Diagnostic["fallback_state"] != StateVectorFallback.String() {
		t.Errorf("Diagnostic[fallback_state] = %q, want %q", response.Diagnostic["fallback_state"], StateVectorFallback.String())
	}
}

func TestEngineFullFailureIsExplicit(t *testing.T) {
	graph, index, _ := seedCorpus(t)

	config := DefaultEngineConfig()
	config.CacheEnabled = false

	engine, err := NewEngine(graph, index, &brokenEmbedder{dimension: testDimension}, config, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	graph.Close()

	response, err := engine.Query(context.Background(), "What properties does Button have?")
	if err == nil {
		t.Fatal("expected an explicit error, got a response")
	}
	if response != nil {
		t.Error("full failure must not also return a response")
	}
	if !errors.Is(err, lerrors.ErrFullFailure) {
		t.Errorf("err = %v, want ErrFullFailure", err)
	}
	if engine.FallbackState() != StateFullFailure {
		t.Errorf("state = %s, want full_failure", engine.FallbackState())
	}
}

func TestEngineCancelledContext(t *testing.T) {
	engine := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Query(ctx, "What properties does Button have?")
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEngineResponseCache(t *testing.T) {
	graph, index, embedder := seedCorpus(t)

	config := DefaultEngineConfig()
	config.CacheEnabled = true

	engine, err := NewEngine(graph, index, embedder, config, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	query := "What properties does Button have?"
	first, _, err := engine.QueryWithMetrics(context.Background(), query)
	if err != nil {
		t.Fatalf("QueryWithMetrics: %v", err)
	}

	// Cache admission is asynchronous; poll briefly.
	hit := false
	for i := 0; i < 50 && !hit; i++ {
		time.Sleep(2 * time.Millisecond)
		cached, metrics, err := engine.QueryWithMetrics(context.Background(), query)
		if err != nil {
			t.Fatalf("cached QueryWithMetrics: %v", err)
		}
		if metrics.CacheHit {
			hit = true
			if len(cached.Components) != len(first.Components) {
				t.Errorf("cached response has %d components, want %d", len(cached.Components), len(first.Components))
			}
		}
	}
	if !hit {
		t.Skip("cache never admitted the entry; admission is probabilistic")
	}
}

func TestRelatedNodesScopesSharedTokens(t *testing.T) {
	buttonID := componentgraphdb.ComponentID("Button", "actions")
	iconID := componentgraphdb.ComponentID("Icon", "actions")

	button := &componentgraphdb.GraphNode{ID: buttonID, NodeType: componentgraphdb.NodeTypeComponent, Name: "Button"}
	icon := &componentgraphdb.GraphNode{ID: iconID, NodeType: componentgraphdb.NodeTypeComponent, Name: "Icon"}
	buttonToken := &componentgraphdb.GraphNode{
		ID: componentgraphdb.TokenNodeID("color.action.primary"), NodeType: componentgraphdb.NodeTypeDesignToken, Name: "color.action.primary",
	}
	iconToken := &componentgraphdb.GraphNode{
		ID: componentgraphdb.TokenNodeID("size.icon.md"), NodeType: componentgraphdb.NodeTypeDesignToken, Name: "size.icon.md",
	}

	// One traversal rooted at Button: its own token, a dependency, and
	// the dependency's token.
	matches := []componentgraphdb.GraphMatch{
		{Node: button, Path: componentgraphdb.Path{Nodes: []*componentgraphdb.GraphNode{button}}, Depth: 0},
		{Node: buttonToken, Path: componentgraphdb.Path{Nodes: []*componentgraphdb.GraphNode{button, buttonToken}}, Depth: 1},
		{Node: icon, Path: componentgraphdb.Path{Nodes: []*componentgraphdb.GraphNode{button, icon}}, Depth: 1},
		{Node: iconToken, Path: componentgraphdb.Path{Nodes: []*componentgraphdb.GraphNode{button, icon, iconToken}}, Depth: 2},
	}

	tokenNames := func(related []RelatedNode) map[string]bool {
		names := make(map[string]bool)
		for _, node := range related {
			if node.NodeType == string(componentgraphdb.NodeTypeDesignToken) {
				names[node.Name] = true
			}
		}
		return names
	}

	buttonTokens := tokenNames(relatedNodes(buttonID, matches))
	if !buttonTokens["color.action.primary"] {
		t.Error("Button's own token missing from its related nodes")
	}
	if buttonTokens["size.icon.md"] {
		t.Error("dependency's token leaked onto Button")
	}

	iconTokens := tokenNames(relatedNodes(iconID, matches))
	if !iconTokens["size.icon.md"] {
		t.Error("Icon's token missing from its related nodes")
	}
	if iconTokens["color.action.primary"] {
		t.Error("Button's token leaked onto Icon")
	}
}

func TestEngineDiagnosticNamesSkippedGraphPhase(t *testing.T) {
	engine := newTestEngine(t)

	response, err := engine.Query(context.Background(), "zzz qqq xyzzy")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	note, ok := response.Diagnostic["graph_phase"]
	if !ok || !strings.Contains(note, "skipped") {
		t.Errorf("Diagnostic[graph_phase] = %q, want a skipped note", note)
	}
}
