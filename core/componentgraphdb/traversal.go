package componentgraphdb

import (
	"container/list"
	"context"
	"errors"
	"fmt"
)

var ErrEmptyTraversal = errors.New("traversal spec has no root")

// Traversal caps protect against pathological dependency cycles. When a
// cap is hit the traversal returns what it has with a partial flag
// instead of looping.
const (
	DefaultMaxDepth   = 3
	DefaultMaxResults = 100
	MaxDepthLimit     = 10
	MaxResultsLimit   = 1000
)

// TraversalDirection specifies edge direction for traversal.
type TraversalDirection int

const (
	DirectionOutgoing TraversalDirection = iota
	DirectionIncoming
	DirectionBoth
)

// TraversalSpec describes a bounded-depth traversal rooted at a
// component, e.g. "component X and its direct dependencies and
// guidelines".
type TraversalSpec struct {
	// RootID is the starting component node. Either RootID or RootName
	// must be set.
	RootID string `json:"root_id,omitempty"`

	// RootName resolves the root by component display name.
	RootName string `json:"root_name,omitempty"`

	// EdgeTypes restricts which relationships are followed; empty means
	// all edge types.
	EdgeTypes []EdgeType `json:"edge_types,omitempty"`

	// MaxDepth bounds traversal depth; clamped to MaxDepthLimit.
	MaxDepth int `json:"max_depth,omitempty"`

	// MaxResults bounds the number of matches; clamped to MaxResultsLimit.
	MaxResults int `json:"max_results,omitempty"`

	Direction TraversalDirection `json:"direction,omitempty"`
}

// IsEmpty reports whether the spec names no root. Empty specs
// short-circuit to empty results rather than an unscoped full scan.
func (spec *TraversalSpec) IsEmpty() bool {
	return spec == nil || (spec.RootID == "" && spec.RootName == "")
}

func (spec *TraversalSpec) normalize() {
	if spec.MaxDepth <= 0 {
		spec.MaxDepth = DefaultMaxDepth
	}
	if spec.MaxDepth > MaxDepthLimit {
		spec.MaxDepth = MaxDepthLimit
	}
	if spec.MaxResults <= 0 {
		spec.MaxResults = DefaultMaxResults
	}
	if spec.MaxResults > MaxResultsLimit {
		spec.MaxResults = MaxResultsLimit
	}
}

// GraphTraverser executes bounded traversals over the component graph.
type GraphTraverser struct {
	db    *GraphDB
	nodes *NodeStore
	edges *EdgeStore
}

// NewGraphTraverser creates a new GraphTraverser.
func NewGraphTraverser(db *GraphDB) *GraphTraverser {
	return &GraphTraverser{
		db:    db,
		nodes: NewNodeStore(db),
		edges: NewEdgeStore(db),
	}
}

type traversalNode struct {
	id    string
	depth int
	path  Path
}

// Query executes the traversal and returns matches with the path that
// produced each. The second return value is the partial flag: true when
// a depth or result cap cut the traversal short.
func (gt *GraphTraverser) Query(ctx context.Context, spec *TraversalSpec) ([]GraphMatch, bool, error) {
	if spec.IsEmpty() {
		return []GraphMatch{}, false, nil
	}
	spec.normalize()

	root, err := gt.resolveRoot(spec)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return []GraphMatch{}, false, nil
		}
		return nil, false, err
	}

	return gt.bfs(ctx, root, spec)
}

func (gt *GraphTraverser) resolveRoot(spec *TraversalSpec) (*GraphNode, error) {
	if spec.RootID != "" {
		return gt.nodes.GetNode(spec.RootID)
	}
	return gt.nodes.GetComponentByName(spec.RootName)
}

func (gt *GraphTraverser) bfs(ctx context.Context, root *GraphNode, spec *TraversalSpec) ([]GraphMatch, bool, error) {
	visited := map[string]bool{root.ID: true}
	queue := list.New()
	queue.PushBack(traversalNode{
		id:   root.ID,
		path: Path{Nodes: []*GraphNode{root}},
	})

	matches := []GraphMatch{{Node: root, Path: Path{Nodes: []*GraphNode{root}}, Depth: 0}}
	partial := false

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, fmt.Errorf("traversal canceled: %w", err)
		}

		curr := queue.Remove(queue.Front()).(traversalNode)
		if curr.depth >= spec.MaxDepth {
			partial = partial || gt.hasUnvisitedNeighbors(curr.id, spec, visited)
			continue
		}

		done, capped, err := gt.expand(curr, spec, visited, queue, &matches)
		if err != nil {
			return nil, false, err
		}
		partial = partial || capped
		if done {
			return matches, true, nil
		}
	}

	return matches, partial, nil
}

// expand visits the neighbors of curr. Returns done=true when the
// result cap was hit and traversal should stop entirely.
func (gt *GraphTraverser) expand(curr traversalNode, spec *TraversalSpec, visited map[string]bool, queue *list.List, matches *[]GraphMatch) (done bool, capped bool, err error) {
	edges, err := gt.relevantEdges(curr.id, spec)
	if err != nil {
		return false, false, err
	}

	for _, edge := range edges {
		neighborID := gt.otherEnd(curr.id, edge)
		if visited[neighborID] {
			continue
		}
		visited[neighborID] = true

		neighbor, err := gt.nodes.GetNode(neighborID)
		if err != nil {
			if errors.Is(err, ErrNodeNotFound) {
				continue
			}
			return false, false, err
		}

		path := Path{
			Nodes: append(append([]*GraphNode(nil), curr.path.Nodes...), neighbor),
			Edges: append(append([]*GraphEdge(nil), curr.path.Edges...), edge),
		}

		*matches = append(*matches, GraphMatch{Node: neighbor, Path: path, Depth: curr.depth + 1})
		if len(*matches) >= spec.MaxResults {
			return true, true, nil
		}

		queue.PushBack(traversalNode{id: neighborID, depth: curr.depth + 1, path: path})
	}
	return false, false, nil
}

func (gt *GraphTraverser) relevantEdges(nodeID string, spec *TraversalSpec) ([]*GraphEdge, error) {
	var edges []*GraphEdge

	if spec.Direction == DirectionOutgoing || spec.Direction == DirectionBoth {
		outgoing, err := gt.edges.GetOutgoingEdges(nodeID, spec.EdgeTypes...)
		if err != nil {
			return nil, err
		}
		edges = append(edges, outgoing...)
	}

	if spec.Direction == DirectionIncoming || spec.Direction == DirectionBoth {
		incoming, err := gt.edges.GetIncomingEdges(nodeID, spec.EdgeTypes...)
		if err != nil {
			return nil, err
		}
		edges = append(edges, incoming...)
	}

	return edges, nil
}

func (gt *GraphTraverser) otherEnd(nodeID string, edge *GraphEdge) string {
	if edge.SourceID == nodeID {
		return edge.TargetID
	}
	return edge.SourceID
}

func (gt *GraphTraverser) hasUnvisitedNeighbors(nodeID string, spec *TraversalSpec, visited map[string]bool) bool {
	edges, err := gt.relevantEdges(nodeID, spec)
	if err != nil {
		return false
	}
	for _, edge := range edges {
		if !visited[gt.otherEnd(nodeID, edge)] {
			return true
		}
	}
	return false
}
