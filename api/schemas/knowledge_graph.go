package schemas

import (
	"fmt"
)

// -- Canonical Knowledge Graph Data Model --

// NodeType represents the specific type of an entity (node) in the knowledge graph.
type NodeType string

const (
	NodeVariable NodeType = "Variable"
	NodeValue    NodeType = "Value"
	NodeCategory NodeType = "Category"
)

// RelationshipType defines the semantic type of a relationship (edge) between
// two nodes in the knowledge graph.
type RelationshipType string

const (
	RelationshipHasValue  RelationshipType = "HAS_VALUE"  // A Variable has a coded Value.
	RelationshipBelongsTo RelationshipType = "BELONGS_TO" // A Variable belongs to a Category.
	RelationshipRelatedTo RelationshipType = "RELATED_TO" // A Variable is clinically related to another Variable.
)

// Node is an entity in the graph. Variables and categories are identified by
// Name; values carry their coded Label.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Type        NodeType       `json:"type" yaml:"type"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	ID   string           `json:"id" yaml:"id"`
	From string           `json:"from" yaml:"from"`
	To   string           `json:"to" yaml:"to"`
	Type RelationshipType `json:"type" yaml:"type"`
}

// -- Query Templates --

// QueryTemplate names one of the pattern queries every GraphStore supports.
// Each backend maps the template to its own query language.
type QueryTemplate string

const (
	// QueryEntryRows lists every Variable with its Category and, when present,
	// each of its Values.
	// Params: none. Columns: var_name, var_description, category, value_label.
	QueryEntryRows QueryTemplate = "entry_rows"

	// QueryVariableRelationships lists the outgoing relationships of a Variable.
	// Params: var_name. Columns: rel_type, connected_name, labels.
	QueryVariableRelationships QueryTemplate = "variable_relationships"

	// QueryValueRelationships lists the outgoing relationships of the Variable
	// owning the given Value, provided the Value exists.
	// Params: var_name, val. Columns: rel_type, connected_name, labels.
	QueryValueRelationships QueryTemplate = "value_relationships"

	// QueryRelatedVariableValues lists Variables reachable from a Variable by any
	// outgoing relationship, joined with their Values.
	// Params: var_name. Columns: related_var, related_desc, related_val, labels.
	QueryRelatedVariableValues QueryTemplate = "related_variable_values"

	// QueryVariableValues lists the Value labels of a Variable ordered by label.
	// Params: var_name. Columns: label.
	QueryVariableValues QueryTemplate = "variable_values"
)

// Record is one result row keyed by column name.
type Record map[string]any

// String returns the column as a string, or "" when absent or null.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Strings returns a list column, accepting []string or []any.
func (r Record) Strings(key string) []string {
	switch t := r[key].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if v != nil {
				out = append(out, fmt.Sprint(v))
			}
		}
		return out
	default:
		return nil
	}
}
