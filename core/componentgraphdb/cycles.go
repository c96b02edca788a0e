package componentgraphdb

import (
	"context"
	"fmt"
	"sort"
)

// DependencyCycle is one cycle in the depends_on relation, reported as
// the component ids along it in order, starting from the smallest id.
type DependencyCycle struct {
	ComponentIDs []string `json:"component_ids"`
}

// DependencyCycles reports cycles among depends_on edges, up to limit.
// Cycles are allowed to exist in the graph; this is a reporting surface
// for design-system audits, not a write-time constraint.
func (gt *GraphTraverser) DependencyCycles(ctx context.Context, limit int) ([]DependencyCycle, error) {
	if limit <= 0 {
		limit = 10
	}

	adjacency, err := gt.dependencyAdjacency(ctx)
	if err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(adjacency))
	for id := range adjacency {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	const (
		unvisited = 0
		inStack   = 1
		finished  = 2
	)

	state := make(map[string]int, len(adjacency))
	var cycles []DependencyCycle
	var stack []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				cycles = append(cycles, extractCycle(stack, next))
				if len(cycles) >= limit {
					return true
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = finished
		return false
	}

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cycle scan canceled: %w", err)
		}
		if state[root] == unvisited {
			if visit(root) {
				break
			}
		}
	}

	return cycles, nil
}

func (gt *GraphTraverser) dependencyAdjacency(ctx context.Context) (map[string][]string, error) {
	rows, err := gt.db.DB().QueryContext(ctx,
		`SELECT source_id, target_id FROM edges WHERE edge_type = ? ORDER BY source_id, target_id`,
		string(EdgeTypeDependsOn))
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency edges: %w", err)
	}
	defer rows.Close()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var source, target string
		if err := rows.Scan(&source, &target); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		adjacency[source] = append(adjacency[source], target)
	}
	return adjacency, rows.Err()
}

// extractCycle slices the DFS stack from the back-edge target onward
// and rotates it so the smallest id comes first, giving a canonical
// form for deduplication by callers.
func extractCycle(stack []string, entry string) DependencyCycle {
	start := 0
	for i, id := range stack {
		if id == entry {
			start = i
			break
		}
	}
	cycle := append([]string(nil), stack[start:]...)

	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]string(nil), cycle[minIdx:]...), cycle[:minIdx]...)
	return DependencyCycle{ComponentIDs: rotated}
}
