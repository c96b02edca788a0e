package componentgraphdb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ComponentStore is the transactional upsert surface of the graph.
// Each upsert applies the full new state of one component as a single
// atomic unit: the component node, its owned sub-nodes, and all
// outgoing edges either become fully visible or not at all.
type ComponentStore struct {
	db     *GraphDB
	nodes  *NodeStore
	edges  *EdgeStore
	logger *slog.Logger
}

// NewComponentStore creates a ComponentStore over the given database.
func NewComponentStore(db *GraphDB, logger *slog.Logger) *ComponentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComponentStore{
		db:     db,
		nodes:  NewNodeStore(db),
		edges:  NewEdgeStore(db),
		logger: logger,
	}
}

// Nodes exposes the read-side node store.
func (cs *ComponentStore) Nodes() *NodeStore {
	return cs.nodes
}

// Edges exposes the read-side edge store.
func (cs *ComponentStore) Edges() *EdgeStore {
	return cs.edges
}

// desiredState is the full graph shape a record should produce.
type desiredState struct {
	component *GraphNode
	owned     []*GraphNode // property/option/default/guideline/purpose/example nodes
	shared    []*GraphNode // design tokens and dependency placeholders
	edges     []*GraphEdge
}

// Upsert creates or updates the component node and fully replaces its
// outgoing edges to match the new record. Old edges absent from the new
// record are removed together with the owned sub-nodes they pointed at;
// unchanged sub-nodes keep their node identity because their ids derive
// from natural keys. Returns WriteConflictError when a concurrent
// writer advanced the component's version.
func (cs *ComponentStore) Upsert(record *ComponentRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	desired := cs.buildDesiredState(record)

	tx, err := cs.db.BeginTx()
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	if err := cs.applyDesiredState(tx, desired); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert for %s: %w", desired.component.ID, err)
	}

	cs.logger.Debug("component upserted",
		"component_id", desired.component.ID,
		"name", desired.component.Name,
		"owned_nodes", len(desired.owned),
		"edges", len(desired.edges))
	return nil
}

func (cs *ComponentStore) buildDesiredState(record *ComponentRecord) *desiredState {
	id := record.ResolvedID()
	now := time.Now()
	hash := record.CanonicalHash()

	state := &desiredState{
		component: &GraphNode{
			ID:          id,
			NodeType:    NodeTypeComponent,
			Name:        record.Name,
			Category:    record.Category,
			Description: record.Description,
			ContentHash: hash,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}

	cs.addProperties(state, record, id, now)
	cs.addGuidelines(state, record, id, now)
	cs.addExamples(state, record, id, now)
	cs.addPurpose(state, record, id, now)
	cs.addTokens(state, record, id, now)
	cs.addDependencies(state, record, id, now)
	return state
}

func (cs *ComponentStore) addProperties(state *desiredState, record *ComponentRecord, id string, now time.Time) {
	for _, prop := range record.Properties {
		propID := SubNodeID(id, NodeTypeProperty, prop.Name)
		state.owned = append(state.owned, &GraphNode{
			ID:           propID,
			NodeType:     NodeTypeProperty,
			Name:         prop.Name,
			ComponentID:  id,
			PropType:     prop.Type,
			DefaultValue: prop.Default,
			Required:     prop.Required,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		state.edges = append(state.edges, &GraphEdge{
			SourceID: id, TargetID: propID, EdgeType: EdgeTypeHasProperty,
		})

		for _, option := range prop.Options {
			optionID := SubNodeID(id, NodeTypeValueOption, prop.Name+"\x00"+option)
			state.owned = append(state.owned, &GraphNode{
				ID:          optionID,
				NodeType:    NodeTypeValueOption,
				Name:        option,
				ComponentID: id,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			state.edges = append(state.edges, &GraphEdge{
				SourceID: propID, TargetID: optionID, EdgeType: EdgeTypeHasOption,
			})
		}

		if prop.Default != "" {
			defaultID := SubNodeID(id, NodeTypeDefaultValue, prop.Name)
			state.owned = append(state.owned, &GraphNode{
				ID:          defaultID,
				NodeType:    NodeTypeDefaultValue,
				Name:        prop.Default,
				ComponentID: id,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			state.edges = append(state.edges, &GraphEdge{
				SourceID: propID, TargetID: defaultID, EdgeType: EdgeTypeHasDefault,
			})
		}
	}
}

func (cs *ComponentStore) addGuidelines(state *desiredState, record *ComponentRecord, id string, now time.Time) {
	for _, g := range record.Guidelines {
		guidelineID := SubNodeID(id, NodeTypeGuideline, g.Title)
		state.owned = append(state.owned, &GraphNode{
			ID:          guidelineID,
			NodeType:    NodeTypeGuideline,
			Name:        g.Title,
			Description: g.Kind,
			ComponentID: id,
			Content:     g.Content,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		state.edges = append(state.edges, &GraphEdge{
			SourceID: id, TargetID: guidelineID, EdgeType: EdgeTypeHasGuideline,
		})
	}
}

func (cs *ComponentStore) addExamples(state *desiredState, record *ComponentRecord, id string, now time.Time) {
	for _, ex := range record.Examples {
		key := ex.Language + "\x00" + ex.Code
		exampleID := SubNodeID(id, NodeTypeCodeExample, key)
		state.owned = append(state.owned, &GraphNode{
			ID:          exampleID,
			NodeType:    NodeTypeCodeExample,
			Name:        ex.Title,
			ComponentID: id,
			Language:    ex.Language,
			Content:     ex.Code,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		state.edges = append(state.edges, &GraphEdge{
			SourceID: id, TargetID: exampleID, EdgeType: EdgeTypeHasExample,
		})
	}
}

func (cs *ComponentStore) addPurpose(state *desiredState, record *ComponentRecord, id string, now time.Time) {
	if record.Purpose == "" {
		return
	}
	purposeID := SubNodeID(id, NodeTypePurpose, "purpose")
	state.owned = append(state.owned, &GraphNode{
		ID:          purposeID,
		NodeType:    NodeTypePurpose,
		Name:        record.Name + " purpose",
		ComponentID: id,
		Content:     record.Purpose,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	state.edges = append(state.edges, &GraphEdge{
		SourceID: id, TargetID: purposeID, EdgeType: EdgeTypeHasPurpose,
	})
}

func (cs *ComponentStore) addTokens(state *desiredState, record *ComponentRecord, id string, now time.Time) {
	for _, token := range record.DesignTokens {
		tokenID := TokenNodeID(token)
		state.shared = append(state.shared, &GraphNode{
			ID:        tokenID,
			NodeType:  NodeTypeDesignToken,
			Name:      token,
			CreatedAt: now,
			UpdatedAt: now,
		})
		state.edges = append(state.edges, &GraphEdge{
			SourceID: id, TargetID: tokenID, EdgeType: EdgeTypeUsesToken,
		})
	}
}

func (cs *ComponentStore) addDependencies(state *desiredState, record *ComponentRecord, id string, now time.Time) {
	for _, dep := range record.Dependencies {
		// Extraction order is arbitrary: a dependency target may not be
		// ingested yet. A placeholder component keeps the edge's endpoints
		// present; real ingestion later replaces the placeholder in place.
		state.shared = append(state.shared, &GraphNode{
			ID:          dep,
			NodeType:    NodeTypeComponent,
			Name:        dep,
			Placeholder: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		state.edges = append(state.edges, &GraphEdge{
			SourceID: id, TargetID: dep, EdgeType: EdgeTypeDependsOn,
		})
	}
}

func (cs *ComponentStore) applyDesiredState(tx *sql.Tx, desired *desiredState) error {
	if err := cs.writeComponentRow(tx, desired.component); err != nil {
		return err
	}
	if err := cs.writeSharedNodes(tx, desired.shared); err != nil {
		return err
	}
	if err := cs.reconcileOwnedNodes(tx, desired); err != nil {
		return err
	}
	return cs.reconcileEdges(tx, desired)
}

// writeComponentRow inserts the component node or CAS-updates it.
func (cs *ComponentStore) writeComponentRow(tx *sql.Tx, component *GraphNode) error {
	var version uint64
	err := tx.QueryRow("SELECT version FROM nodes WHERE id = ?", component.ID).Scan(&version)
	if err == sql.ErrNoRows {
		component.Version = 1
		return insertNodeTx(tx, component)
	}
	if err != nil {
		return fmt.Errorf("read component version %s: %w", component.ID, err)
	}

	component.Version = version + 1
	result, err := tx.Exec(`
		UPDATE nodes SET name = ?, category = ?, description = ?, content_hash = ?,
			placeholder = 0, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, component.Name, nullString(component.Category), nullString(component.Description),
		component.ContentHash, component.Version,
		component.UpdatedAt.Format(time.RFC3339), component.ID, version)
	if err != nil {
		return fmt.Errorf("update component %s: %w", component.ID, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewWriteConflictError(component.ID, version)
	}
	return nil
}

// writeSharedNodes inserts shared nodes (tokens, dependency placeholders)
// that do not already exist. Existing shared nodes are never modified.
func (cs *ComponentStore) writeSharedNodes(tx *sql.Tx, shared []*GraphNode) error {
	for _, node := range shared {
		var exists int
		err := tx.QueryRow("SELECT 1 FROM nodes WHERE id = ?", node.ID).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check shared node %s: %w", node.ID, err)
		}
		node.Version = 1
		if err := insertNodeTx(tx, node); err != nil {
			return err
		}
	}
	return nil
}

// reconcileOwnedNodes inserts new owned sub-nodes, updates changed ones
// in place (identity preserved via natural-key ids), and deletes owned
// nodes absent from the new record.
func (cs *ComponentStore) reconcileOwnedNodes(tx *sql.Tx, desired *desiredState) error {
	existing, err := cs.ownedNodeIDs(tx, desired.component.ID)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(desired.owned))
	for _, node := range desired.owned {
		wanted[node.ID] = true
		node.Version = 1
		if existing[node.ID] {
			if err := updateNodeTx(tx, node); err != nil {
				return err
			}
			continue
		}
		if err := insertNodeTx(tx, node); err != nil {
			return err
		}
	}

	for id := range existing {
		if wanted[id] {
			continue
		}
		// Cascade removes any edges referencing the orphaned sub-node.
		if _, err := tx.Exec("DELETE FROM nodes WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete orphaned sub-node %s: %w", id, err)
		}
	}
	return nil
}

func (cs *ComponentStore) ownedNodeIDs(tx *sql.Tx, componentID string) (map[string]bool, error) {
	rows, err := tx.Query("SELECT id FROM nodes WHERE component_id = ?", componentID)
	if err != nil {
		return nil, fmt.Errorf("query owned nodes of %s: %w", componentID, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

type edgeKey struct {
	source   string
	target   string
	edgeType EdgeType
}

// reconcileEdges diffs the component's outgoing edge set (including
// edges sourced from owned sub-nodes) against the desired set: removed
// edges are deleted, new ones inserted, unchanged ones left intact.
func (cs *ComponentStore) reconcileEdges(tx *sql.Tx, desired *desiredState) error {
	existing, err := cs.existingEdges(tx, desired.component.ID)
	if err != nil {
		return err
	}

	wanted := make(map[edgeKey]bool, len(desired.edges))
	for _, edge := range desired.edges {
		key := edgeKey{edge.SourceID, edge.TargetID, edge.EdgeType}
		wanted[key] = true
		if _, ok := existing[key]; ok {
			continue
		}
		if err := insertEdgeTx(tx, edge); err != nil {
			return err
		}
	}

	for key, id := range existing {
		if wanted[key] {
			continue
		}
		if err := deleteEdgeTx(tx, id); err != nil && err != ErrEdgeNotFound {
			return err
		}
	}
	return nil
}

func (cs *ComponentStore) existingEdges(tx *sql.Tx, componentID string) (map[edgeKey]int64, error) {
	rows, err := tx.Query(`
		SELECT id, source_id, target_id, edge_type FROM edges
		WHERE source_id = ?
		   OR source_id IN (SELECT id FROM nodes WHERE component_id = ?)
	`, componentID, componentID)
	if err != nil {
		return nil, fmt.Errorf("query existing edges of %s: %w", componentID, err)
	}
	defer rows.Close()

	edges := make(map[edgeKey]int64)
	for rows.Next() {
		var id int64
		var source, target string
		var edgeType EdgeType
		if err := rows.Scan(&id, &source, &target, &edgeType); err != nil {
			return nil, err
		}
		edges[edgeKey{source, target, edgeType}] = id
	}
	return edges, rows.Err()
}

// Supersede marks a component as replaced by another. Components are
// never hard-deleted.
func (cs *ComponentStore) Supersede(componentID, successorID string) error {
	result, err := cs.db.db.Exec(
		"UPDATE nodes SET superseded_by = ?, updated_at = ? WHERE id = ?",
		successorID, time.Now().Format(time.RFC3339), componentID)
	if err != nil {
		return fmt.Errorf("supersede component %s: %w", componentID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNodeNotFound
	}
	return nil
}
