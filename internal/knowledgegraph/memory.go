package knowledgegraph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// InMemoryStore is an ephemeral GraphStore, loaded from a seed file. Good for
// tests, demos and small dictionaries that don't warrant a database.
type InMemoryStore struct {
	nodes         map[string]schemas.Node
	nodeOrder     []string
	edges         map[string]schemas.Edge // Key: edge ID
	outgoingEdges map[string][]string     // Key: node ID, Value: edge IDs in insertion order
	mu            sync.RWMutex
	log           *zap.Logger
}

var _ schemas.GraphStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new, empty in-memory knowledge graph.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		nodes:         make(map[string]schemas.Node),
		edges:         make(map[string]schemas.Edge),
		outgoingEdges: make(map[string][]string),
		log:           logger.Named("memory_graph"),
	}
}

// AddNode adds a node to the graph. If a node with the same ID already exists, it is overwritten.
func (kg *InMemoryStore) AddNode(_ context.Context, node schemas.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is required")
	}
	kg.mu.Lock()
	defer kg.mu.Unlock()

	if _, exists := kg.nodes[node.ID]; !exists {
		kg.nodeOrder = append(kg.nodeOrder, node.ID)
	}
	kg.nodes[node.ID] = node
	kg.log.Debug("Node added or updated", zap.String("ID", node.ID), zap.String("Type", string(node.Type)))
	return nil
}

// AddEdge adds an edge to the graph. If an edge with the same ID already exists, it's overwritten.
func (kg *InMemoryStore) AddEdge(_ context.Context, edge schemas.Edge) error {
	kg.mu.Lock()
	defer kg.mu.Unlock()

	if _, exists := kg.nodes[edge.From]; !exists {
		return fmt.Errorf("source node with id '%s' not found for edge", edge.From)
	}
	if _, exists := kg.nodes[edge.To]; !exists {
		return fmt.Errorf("destination node with id '%s' not found for edge", edge.To)
	}

	existing, exists := kg.edges[edge.ID]
	switch {
	case !exists:
		kg.outgoingEdges[edge.From] = append(kg.outgoingEdges[edge.From], edge.ID)
	case existing.From != edge.From:
		// The edge moved to a new source node.
		kg.removeFromOutgoing(existing.From, edge.ID)
		kg.outgoingEdges[edge.From] = append(kg.outgoingEdges[edge.From], edge.ID)
	}
	kg.edges[edge.ID] = edge

	kg.log.Debug("Edge added or updated", zap.String("ID", edge.ID), zap.String("From", edge.From), zap.String("To", edge.To))
	return nil
}

// removeFromOutgoing keeps the remaining edges in order. Caller holds the write lock.
func (kg *InMemoryStore) removeFromOutgoing(nodeID, edgeID string) {
	edges := kg.outgoingEdges[nodeID]
	for i, id := range edges {
		if id == edgeID {
			kg.outgoingEdges[nodeID] = append(edges[:i:i], edges[i+1:]...)
			return
		}
	}
}

// GetNode retrieves a node by its ID.
func (kg *InMemoryStore) GetNode(_ context.Context, id string) (schemas.Node, error) {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	node, ok := kg.nodes[id]
	if !ok {
		return schemas.Node{}, fmt.Errorf("node with id '%s' not found", id)
	}
	return node, nil
}

// Run answers a query template by walking the graph.
func (kg *InMemoryStore) Run(ctx context.Context, query schemas.QueryTemplate, params map[string]any) ([]schemas.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	switch query {
	case schemas.QueryEntryRows:
		return kg.entryRows(), nil
	case schemas.QueryVariableRelationships:
		v, ok := kg.variableByName(paramString(params, "var_name"))
		if !ok {
			return nil, nil
		}
		return kg.relationships(v), nil
	case schemas.QueryValueRelationships:
		v, ok := kg.variableByName(paramString(params, "var_name"))
		if !ok || len(kg.valuesOf(v, paramString(params, "val"))) == 0 {
			return nil, nil
		}
		return kg.relationships(v), nil
	case schemas.QueryRelatedVariableValues:
		v, ok := kg.variableByName(paramString(params, "var_name"))
		if !ok {
			return nil, nil
		}
		return kg.relatedVariableValues(v), nil
	case schemas.QueryVariableValues:
		v, ok := kg.variableByName(paramString(params, "var_name"))
		if !ok {
			return nil, nil
		}
		var labels []string
		for _, val := range kg.valuesOf(v, "") {
			labels = append(labels, val.Label)
		}
		sort.Strings(labels)
		rows := make([]schemas.Record, 0, len(labels))
		for _, l := range labels {
			rows = append(rows, schemas.Record{"label": l})
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported query template %q", query)
	}
}

// Close is a no-op.
func (kg *InMemoryStore) Close(context.Context) error { return nil }

func (kg *InMemoryStore) entryRows() []schemas.Record {
	var rows []schemas.Record
	for _, id := range kg.nodeOrder {
		v := kg.nodes[id]
		if v.Type != schemas.NodeVariable {
			continue
		}
		for _, c := range kg.targets(v, schemas.RelationshipBelongsTo, schemas.NodeCategory) {
			values := kg.valuesOf(v, "")
			if len(values) == 0 {
				rows = append(rows, schemas.Record{
					"var_name": v.Name, "var_description": v.Description, "category": c.Name, "value_label": nil,
				})
				continue
			}
			for _, val := range values {
				rows = append(rows, schemas.Record{
					"var_name": v.Name, "var_description": v.Description, "category": c.Name, "value_label": val.Label,
				})
			}
		}
	}
	return rows
}

func (kg *InMemoryStore) relationships(v schemas.Node) []schemas.Record {
	var rows []schemas.Record
	for _, eid := range kg.outgoingEdges[v.ID] {
		e := kg.edges[eid]
		to := kg.nodes[e.To]
		var name any
		if to.Name != "" {
			name = to.Name
		}
		rows = append(rows, schemas.Record{
			"rel_type": string(e.Type), "connected_name": name, "labels": []string{string(to.Type)},
		})
	}
	return rows
}

func (kg *InMemoryStore) relatedVariableValues(v schemas.Node) []schemas.Record {
	seen := make(map[string]bool)
	var rows []schemas.Record
	for _, eid := range kg.outgoingEdges[v.ID] {
		related := kg.nodes[kg.edges[eid].To]
		if related.Type != schemas.NodeVariable {
			continue
		}
		values := kg.valuesOf(related, "")
		if len(values) == 0 {
			values = []schemas.Node{{}}
		}
		for _, val := range values {
			key := related.ID + "\x00" + val.Label
			if seen[key] {
				continue
			}
			seen[key] = true
			var label any
			if val.Label != "" {
				label = val.Label
			}
			rows = append(rows, schemas.Record{
				"related_var": related.Name, "related_desc": related.Description,
				"related_val": label, "labels": []string{string(related.Type)},
			})
		}
	}
	return rows
}

func (kg *InMemoryStore) variableByName(name string) (schemas.Node, bool) {
	for _, id := range kg.nodeOrder {
		if n := kg.nodes[id]; n.Type == schemas.NodeVariable && n.Name == name {
			return n, true
		}
	}
	return schemas.Node{}, false
}

// valuesOf returns v's values, optionally restricted to one label.
func (kg *InMemoryStore) valuesOf(v schemas.Node, label string) []schemas.Node {
	var out []schemas.Node
	for _, val := range kg.targets(v, schemas.RelationshipHasValue, schemas.NodeValue) {
		if label == "" || val.Label == label {
			out = append(out, val)
		}
	}
	return out
}

func (kg *InMemoryStore) targets(from schemas.Node, rel schemas.RelationshipType, nodeType schemas.NodeType) []schemas.Node {
	var out []schemas.Node
	for _, eid := range kg.outgoingEdges[from.ID] {
		e := kg.edges[eid]
		if e.Type != rel {
			continue
		}
		if to := kg.nodes[e.To]; to.Type == nodeType {
			out = append(out, to)
		}
	}
	return out
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
