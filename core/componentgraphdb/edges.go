package componentgraphdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEdgeNotFound        = errors.New("edge not found")
	ErrInvalidEdgeType     = errors.New("invalid edge type")
	ErrSelfLoop            = errors.New("self-loop edge not permitted")
	ErrEdgeEndpointMissing = errors.New("edge endpoint node not found")
)

const edgeColumns = "id, source_id, target_id, edge_type, weight, metadata, created_at"

// EdgeStore provides CRUD operations for graph edges. Every edge's
// endpoints must exist before the edge is committed; the upsert path
// enforces this by writing nodes and edges in one transaction.
type EdgeStore struct {
	db *GraphDB
}

// NewEdgeStore creates a new EdgeStore with the given database.
func NewEdgeStore(db *GraphDB) *EdgeStore {
	return &EdgeStore{db: db}
}

func (es *EdgeStore) GetOutgoingEdges(nodeID string, edgeTypes ...EdgeType) ([]*GraphEdge, error) {
	return es.getEdges("source_id", nodeID, edgeTypes)
}

func (es *EdgeStore) GetIncomingEdges(nodeID string, edgeTypes ...EdgeType) ([]*GraphEdge, error) {
	return es.getEdges("target_id", nodeID, edgeTypes)
}

func (es *EdgeStore) getEdges(column, nodeID string, edgeTypes []EdgeType) ([]*GraphEdge, error) {
	query := "SELECT " + edgeColumns + " FROM edges WHERE " + column + " = ?"
	args := []any{nodeID}

	if len(edgeTypes) > 0 {
		query += " AND edge_type IN ("
		for i, et := range edgeTypes {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, et)
		}
		query += ")"
	}

	rows, err := es.db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges of %s: %w", nodeID, err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*GraphEdge, error) {
	var edges []*GraphEdge
	for rows.Next() {
		edge, err := scanEdgeRow(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func scanEdgeRow(rows *sql.Rows) (*GraphEdge, error) {
	var edge GraphEdge
	var metadataJSON sql.NullString
	var createdAt string

	err := rows.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &edge.EdgeType,
		&edge.Weight, &metadataJSON, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan edge row: %w", err)
	}

	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &edge.Metadata); err != nil {
			edge.Metadata = nil
		}
	}
	edge.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &edge, nil
}

func insertEdgeTx(tx *sql.Tx, edge *GraphEdge) error {
	if !edge.EdgeType.IsValid() {
		return ErrInvalidEdgeType
	}
	if edge.SourceID == edge.TargetID {
		return ErrSelfLoop
	}

	var metadata any
	if edge.Metadata != nil {
		payload, err := json.Marshal(edge.Metadata)
		if err == nil {
			metadata = string(payload)
		}
	}

	if edge.Weight == 0 {
		edge.Weight = 1.0
	}
	edge.CreatedAt = time.Now()

	result, err := tx.Exec(`
		INSERT INTO edges (source_id, target_id, edge_type, weight, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, edge.SourceID, edge.TargetID, edge.EdgeType, edge.Weight, metadata,
		edge.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert edge %s->%s (type=%s): %w", edge.SourceID, edge.TargetID, edge.EdgeType, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("fetch edge id for %s->%s: %w", edge.SourceID, edge.TargetID, err)
	}
	edge.ID = id
	return nil
}

func deleteEdgeTx(tx *sql.Tx, id int64) error {
	result, err := tx.Exec("DELETE FROM edges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete edge id=%d: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrEdgeNotFound
	}
	return nil
}
