package componentgraphdb

import (
	"time"
)

// NodeType represents the kind of a node in the component graph.
// The vocabulary is closed: records referencing undeclared types are
// rejected at ingestion rather than silently accepted.
type NodeType string

const (
	// NodeTypeComponent is the central entity: a UI component.
	NodeTypeComponent NodeType = "component"

	// NodeTypeProperty is a configurable property owned by one component.
	NodeTypeProperty NodeType = "property"

	// NodeTypeValueOption is a possible value for a property.
	NodeTypeValueOption NodeType = "value_option"

	// NodeTypeDefaultValue is the default value for a property.
	NodeTypeDefaultValue NodeType = "default_value"

	// NodeTypeDesignToken is a shared design primitive referenced by components.
	NodeTypeDesignToken NodeType = "design_token"

	// NodeTypeGuideline is a usage guideline attached to a component.
	NodeTypeGuideline NodeType = "guideline"

	// NodeTypePurpose is a free-text statement of what a component is for.
	NodeTypePurpose NodeType = "purpose"

	// NodeTypeCodeExample is a code snippet demonstrating component usage.
	NodeTypeCodeExample NodeType = "code_example"
)

// ValidNodeTypes returns all valid NodeType values.
func ValidNodeTypes() []NodeType {
	return []NodeType{
		NodeTypeComponent,
		NodeTypeProperty,
		NodeTypeValueOption,
		NodeTypeDefaultValue,
		NodeTypeDesignToken,
		NodeTypeGuideline,
		NodeTypePurpose,
		NodeTypeCodeExample,
	}
}

// IsValid returns true if the node type is a recognized value.
func (nt NodeType) IsValid() bool {
	for _, valid := range ValidNodeTypes() {
		if nt == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the node type.
func (nt NodeType) String() string {
	return string(nt)
}

// EdgeType represents the type of relationship between nodes.
type EdgeType string

const (
	// EdgeTypeHasProperty links a component to one of its properties.
	EdgeTypeHasProperty EdgeType = "has_property"

	// EdgeTypeHasOption links a property to a possible value.
	EdgeTypeHasOption EdgeType = "has_option"

	// EdgeTypeHasDefault links a property to its default value.
	EdgeTypeHasDefault EdgeType = "has_default"

	// EdgeTypeUsesToken links a component to a shared design token.
	EdgeTypeUsesToken EdgeType = "uses_token"

	// EdgeTypeHasGuideline links a component to a usage guideline.
	EdgeTypeHasGuideline EdgeType = "has_guideline"

	// EdgeTypeHasPurpose links a component to a purpose statement.
	EdgeTypeHasPurpose EdgeType = "has_purpose"

	// EdgeTypeHasExample links a component to a code example.
	EdgeTypeHasExample EdgeType = "has_example"

	// EdgeTypeDependsOn is a directed component-to-component dependency.
	// Self-loops are rejected; cycles are permitted but reportable.
	EdgeTypeDependsOn EdgeType = "depends_on"
)

// ValidEdgeTypes returns all valid EdgeType values.
func ValidEdgeTypes() []EdgeType {
	return []EdgeType{
		EdgeTypeHasProperty,
		EdgeTypeHasOption,
		EdgeTypeHasDefault,
		EdgeTypeUsesToken,
		EdgeTypeHasGuideline,
		EdgeTypeHasPurpose,
		EdgeTypeHasExample,
		EdgeTypeDependsOn,
	}
}

// OwnedEdgeTypes returns edge types whose target node is owned by the
// source component and replaced wholesale on upsert. Design tokens and
// dependency targets are shared nodes and are never owned.
func OwnedEdgeTypes() []EdgeType {
	return []EdgeType{
		EdgeTypeHasProperty,
		EdgeTypeHasOption,
		EdgeTypeHasDefault,
		EdgeTypeHasGuideline,
		EdgeTypeHasPurpose,
		EdgeTypeHasExample,
	}
}

// IsValid returns true if the edge type is a recognized value.
func (et EdgeType) IsValid() bool {
	for _, valid := range ValidEdgeTypes() {
		if et == valid {
			return true
		}
	}
	return false
}

// IsOwned returns true if targets of this edge type are owned sub-nodes.
func (et EdgeType) IsOwned() bool {
	for _, owned := range OwnedEdgeTypes() {
		if et == owned {
			return true
		}
	}
	return false
}

// String returns the string representation of the edge type.
func (et EdgeType) String() string {
	return string(et)
}

// GraphNode represents a node in the component graph.
type GraphNode struct {
	// ID is the stable unique identifier. For components it is derived
	// from the canonicalized name and category; for owned sub-nodes it is
	// derived from the owning component and the sub-node's natural key.
	ID string `json:"id"`

	// NodeType specifies the kind of node.
	NodeType NodeType `json:"node_type"`

	// Name is the display name (component name, property name, token name).
	Name string `json:"name"`

	// Category applies to component nodes.
	Category string `json:"category,omitempty"`

	// Description carries free text for components and guidelines.
	Description string `json:"description,omitempty"`

	// ComponentID is the owning component for owned sub-nodes; empty for
	// components and shared nodes.
	ComponentID string `json:"component_id,omitempty"`

	// PropType is the declared type of a property node.
	PropType string `json:"prop_type,omitempty"`

	// DefaultValue is the default of a property node.
	DefaultValue string `json:"default_value,omitempty"`

	// Required marks a property node as required.
	Required bool `json:"required,omitempty"`

	// Language applies to code example nodes.
	Language string `json:"language,omitempty"`

	// Content carries guideline bodies, purpose text, and example code.
	Content string `json:"content,omitempty"`

	// ContentHash is the canonical digest of the component record that
	// produced this node. Empty for placeholder components that exist
	// only as dependency targets.
	ContentHash string `json:"content_hash,omitempty"`

	// Version is the CAS counter for optimistic writes on component rows.
	Version uint64 `json:"version"`

	// Placeholder marks a component created only to satisfy a dependency
	// edge before the component itself was ingested.
	Placeholder bool `json:"placeholder,omitempty"`

	// SupersededBy points to the replacement node. Components are never
	// hard-deleted, only superseded.
	SupersededBy string `json:"superseded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GraphEdge represents a directed edge between two nodes.
type GraphEdge struct {
	ID       int64    `json:"id"`
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	EdgeType EdgeType `json:"edge_type"`

	// Weight indicates relationship strength (0.0-1.0).
	Weight float64 `json:"weight"`

	// Metadata carries edge-specific data such as dependency descriptions.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Path is the node/edge sequence that produced a traversal match.
type Path struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
}

// GraphMatch is a single traversal result with the path that reached it.
type GraphMatch struct {
	Node  *GraphNode `json:"node"`
	Path  Path       `json:"path"`
	Depth int        `json:"depth"`
}

// GraphStats contains counts describing the graph state.
type GraphStats struct {
	TotalNodes  int64              `json:"total_nodes"`
	NodesByType map[NodeType]int64 `json:"nodes_by_type"`
	TotalEdges  int64              `json:"total_edges"`
	EdgesByType map[EdgeType]int64 `json:"edges_by_type"`

	// TokenRefCounts maps design token node ID to the number of
	// components referencing it. Reporting only, never lifecycle.
	TokenRefCounts map[string]int64 `json:"token_ref_counts"`

	Placeholders int64 `json:"placeholders"`
	DBSizeBytes  int64 `json:"db_size_bytes"`
}
