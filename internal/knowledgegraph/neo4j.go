package knowledgegraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// cypherTemplates maps each query template to Cypher. Values carry a label
// and no name, so relationship rows pointing at them have a null
// connected_name.
var cypherTemplates = map[schemas.QueryTemplate]string{
	schemas.QueryEntryRows: `
		MATCH (v:Variable)-[:BELONGS_TO]->(c:Category)
		OPTIONAL MATCH (v)-[:HAS_VALUE]->(val:Value)
		RETURN v.name AS var_name,
		       v.description AS var_description,
		       c.name AS category,
		       val.label AS value_label`,
	schemas.QueryVariableRelationships: `
		MATCH (v:Variable {name: $var_name})
		OPTIONAL MATCH (v)-[r]->(connected)
		RETURN type(r) AS rel_type, connected.name AS connected_name, labels(connected) AS labels`,
	schemas.QueryValueRelationships: `
		MATCH (v:Variable {name: $var_name})-[:HAS_VALUE]->(val:Value {label: $val})
		OPTIONAL MATCH (v)-[r]->(connected)
		RETURN type(r) AS rel_type, connected.name AS connected_name, labels(connected) AS labels`,
	schemas.QueryRelatedVariableValues: `
		MATCH (v:Variable {name: $var_name})
		OPTIONAL MATCH (v)-[r]->(related:Variable)
		OPTIONAL MATCH (related)-[:HAS_VALUE]->(val2:Value)
		RETURN DISTINCT related.name AS related_var,
		                related.description AS related_desc,
		                val2.label AS related_val,
		                labels(related) AS labels`,
	schemas.QueryVariableValues: `
		MATCH (v:Variable {name: $var_name})
		OPTIONAL MATCH (v)-[:HAS_VALUE]->(val:Value)
		RETURN val.label AS label
		ORDER BY val.label`,
}

// Neo4jStore runs query templates through the Neo4j driver using read
// transactions.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger
}

var _ schemas.GraphStore = (*Neo4jStore)(nil)

// NewNeo4jStore connects and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg config.GraphConfig, logger *zap.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity check against %s: %w", cfg.URI, err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database, log: logger.Named("neo4j_graph")}, nil
}

func (s *Neo4jStore) Run(ctx context.Context, query schemas.QueryTemplate, params map[string]any) ([]schemas.Record, error) {
	cypher, ok := cypherTemplates[query]
	if !ok {
		return nil, fmt.Errorf("unsupported query template %q", query)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := result.([]*neo4j.Record)
	s.log.Debug("Query complete", zap.String("template", string(query)), zap.Int("rows", len(records)))
	return toRecords(records), nil
}

// AddNode merges a node keyed on its ID, labelled with its type.
func (s *Neo4jStore) AddNode(ctx context.Context, node schemas.Node) error {
	if !validNodeType(node.Type) {
		return fmt.Errorf("invalid node type %q", node.Type)
	}
	cypher := fmt.Sprintf(`MERGE (n:%s {id: $id})
		SET n.name = $name, n.label = $label, n.description = $description`, node.Type)
	return s.write(ctx, cypher, map[string]any{
		"id": node.ID, "name": nullable(node.Name), "label": nullable(node.Label), "description": nullable(node.Description),
	})
}

// AddEdge merges a typed relationship between two existing nodes.
func (s *Neo4jStore) AddEdge(ctx context.Context, edge schemas.Edge) error {
	if !validRelationship(edge.Type) {
		return fmt.Errorf("invalid relationship type %q", edge.Type)
	}
	cypher := fmt.Sprintf(`MATCH (a {id: $from}), (b {id: $to})
		MERGE (a)-[r:%s]->(b)
		SET r.id = $id`, edge.Type)
	return s.write(ctx, cypher, map[string]any{"from": edge.From, "to": edge.To, "id": edge.ID})
}

func (s *Neo4jStore) write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func toRecords(records []*neo4j.Record) []schemas.Record {
	out := make([]schemas.Record, 0, len(records))
	for _, r := range records {
		row := make(schemas.Record, len(r.Keys))
		for i, k := range r.Keys {
			if i < len(r.Values) {
				row[k] = r.Values[i]
			}
		}
		out = append(out, row)
	}
	return out
}

func validNodeType(t schemas.NodeType) bool {
	switch t {
	case schemas.NodeVariable, schemas.NodeValue, schemas.NodeCategory:
		return true
	}
	return false
}

func validRelationship(t schemas.RelationshipType) bool {
	switch t {
	case schemas.RelationshipHasValue, schemas.RelationshipBelongsTo, schemas.RelationshipRelatedTo:
		return true
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
