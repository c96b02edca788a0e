package componentgraphdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrInvalidNodeType = errors.New("invalid node type")
)

const nodeColumns = `id, node_type, name, category, description, component_id,
	prop_type, default_value, required, language, content, content_hash,
	version, placeholder, superseded_by, created_at, updated_at`

// NodeStore provides CRUD operations for graph nodes.
//
// Thread safety: reads go through the shared connection pool; writes to
// the same component are serialized by the upsert path's CAS checks.
type NodeStore struct {
	db *GraphDB
}

// NewNodeStore creates a new NodeStore with the given database.
func NewNodeStore(db *GraphDB) *NodeStore {
	return &NodeStore{db: db}
}

func (ns *NodeStore) GetNode(id string) (*GraphNode, error) {
	row := ns.db.db.QueryRow("SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)
	return scanNodeRow(row)
}

// GetComponentByName finds a component node by its display name.
func (ns *NodeStore) GetComponentByName(name string) (*GraphNode, error) {
	row := ns.db.db.QueryRow(
		"SELECT "+nodeColumns+" FROM nodes WHERE node_type = ? AND name = ? COLLATE NOCASE",
		NodeTypeComponent, name)
	return scanNodeRow(row)
}

func (ns *NodeStore) GetNodesByType(nodeType NodeType, limit int) ([]*GraphNode, error) {
	if !nodeType.IsValid() {
		return nil, ErrInvalidNodeType
	}
	rows, err := ns.db.db.Query(
		"SELECT "+nodeColumns+" FROM nodes WHERE node_type = ? ORDER BY name LIMIT ?",
		nodeType, limit)
	if err != nil {
		return nil, fmt.Errorf("query nodes by type %s: %w", nodeType, err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// GetOwnedNodes returns all sub-nodes owned by a component.
func (ns *NodeStore) GetOwnedNodes(componentID string) ([]*GraphNode, error) {
	rows, err := ns.db.db.Query(
		"SELECT "+nodeColumns+" FROM nodes WHERE component_id = ?", componentID)
	if err != nil {
		return nil, fmt.Errorf("query owned nodes of %s: %w", componentID, err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// GetNodesBatch loads multiple nodes by ID in a single query. Missing
// nodes are silently omitted from the result map.
func (ns *NodeStore) GetNodesBatch(ids []string) (map[string]*GraphNode, error) {
	if len(ids) == 0 {
		return make(map[string]*GraphNode), nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}

	rows, err := ns.db.db.Query(
		"SELECT "+nodeColumns+" FROM nodes WHERE id IN ("+string(placeholders)+")", args...)
	if err != nil {
		return nil, fmt.Errorf("batch query nodes: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*GraphNode, len(nodes))
	for _, node := range nodes {
		result[node.ID] = node
	}
	return result, nil
}

// GetNodeVersion returns the CAS version of a node.
func (ns *NodeStore) GetNodeVersion(id string) (uint64, error) {
	var version uint64
	err := ns.db.db.QueryRow("SELECT version FROM nodes WHERE id = ?", id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrNodeNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get node version: %w", err)
	}
	return version, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeRow(row rowScanner) (*GraphNode, error) {
	var node GraphNode
	var category, description, componentID sql.NullString
	var propType, defaultValue, language, content, contentHash, supersededBy sql.NullString
	var required, placeholder bool
	var createdAt, updatedAt string

	err := row.Scan(&node.ID, &node.NodeType, &node.Name, &category, &description,
		&componentID, &propType, &defaultValue, &required, &language, &content,
		&contentHash, &node.Version, &placeholder, &supersededBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}

	node.Category = category.String
	node.Description = description.String
	node.ComponentID = componentID.String
	node.PropType = propType.String
	node.DefaultValue = defaultValue.String
	node.Required = required
	node.Language = language.String
	node.Content = content.String
	node.ContentHash = contentHash.String
	node.Placeholder = placeholder
	node.SupersededBy = supersededBy.String
	node.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	node.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &node, nil
}

func scanNodes(rows *sql.Rows) ([]*GraphNode, error) {
	var nodes []*GraphNode
	for rows.Next() {
		node, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func insertNodeTx(tx *sql.Tx, node *GraphNode) error {
	_, err := tx.Exec(`
		INSERT INTO nodes (id, node_type, name, category, description, component_id,
			prop_type, default_value, required, language, content, content_hash,
			version, placeholder, superseded_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, node.ID, node.NodeType, node.Name, nullString(node.Category), nullString(node.Description),
		nullString(node.ComponentID), nullString(node.PropType), nullString(node.DefaultValue),
		node.Required, nullString(node.Language), nullString(node.Content), nullString(node.ContentHash),
		node.Version, node.Placeholder, nullString(node.SupersededBy),
		node.CreatedAt.Format(time.RFC3339), node.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert node %s (type=%s): %w", node.ID, node.NodeType, err)
	}
	return nil
}

func updateNodeTx(tx *sql.Tx, node *GraphNode) error {
	_, err := tx.Exec(`
		UPDATE nodes SET node_type = ?, name = ?, category = ?, description = ?, component_id = ?,
			prop_type = ?, default_value = ?, required = ?, language = ?, content = ?,
			content_hash = ?, placeholder = ?, superseded_by = ?, updated_at = ?
		WHERE id = ?
	`, node.NodeType, node.Name, nullString(node.Category), nullString(node.Description),
		nullString(node.ComponentID), nullString(node.PropType), nullString(node.DefaultValue),
		node.Required, nullString(node.Language), nullString(node.Content), nullString(node.ContentHash),
		node.Placeholder, nullString(node.SupersededBy),
		node.UpdatedAt.Format(time.RFC3339), node.ID)
	if err != nil {
		return fmt.Errorf("update node %s: %w", node.ID, err)
	}
	return nil
}
