package knowledgegraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	createNodesTable = `
		CREATE TABLE IF NOT EXISTS kg_nodes (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			name        TEXT,
			label       TEXT,
			description TEXT
		);`
	createEdgesTable = `
		CREATE TABLE IF NOT EXISTS kg_edges (
			id        TEXT PRIMARY KEY,
			from_node TEXT NOT NULL REFERENCES kg_nodes(id),
			to_node   TEXT NOT NULL REFERENCES kg_nodes(id),
			type      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS kg_edges_from_idx ON kg_edges (from_node, type);`

	upsertNode = `
		INSERT INTO kg_nodes (id, type, name, label, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			description = EXCLUDED.description;`
	upsertEdge = `
		INSERT INTO kg_edges (id, from_node, to_node, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			from_node = EXCLUDED.from_node,
			to_node = EXCLUDED.to_node,
			type = EXCLUDED.type;`
)

// sqlTemplates mirrors the Cypher templates over the two-table layout.
// Column order matches the documented template columns.
var sqlTemplates = map[schemas.QueryTemplate]struct {
	sql     string
	params  []string
	columns []string
}{
	schemas.QueryEntryRows: {
		sql: `
		SELECT v.name, v.description, c.name, val.label
		FROM kg_nodes v
		JOIN kg_edges bt ON bt.from_node = v.id AND bt.type = 'BELONGS_TO'
		JOIN kg_nodes c ON c.id = bt.to_node AND c.type = 'Category'
		LEFT JOIN kg_edges hv ON hv.from_node = v.id AND hv.type = 'HAS_VALUE'
		LEFT JOIN kg_nodes val ON val.id = hv.to_node AND val.type = 'Value'
		WHERE v.type = 'Variable'`,
		columns: []string{"var_name", "var_description", "category", "value_label"},
	},
	schemas.QueryVariableRelationships: {
		sql: `
		SELECT e.type, NULLIF(c.name, ''), ARRAY[c.type]
		FROM kg_nodes v
		JOIN kg_edges e ON e.from_node = v.id
		JOIN kg_nodes c ON c.id = e.to_node
		WHERE v.type = 'Variable' AND v.name = $1`,
		params:  []string{"var_name"},
		columns: []string{"rel_type", "connected_name", "labels"},
	},
	schemas.QueryValueRelationships: {
		sql: `
		SELECT e.type, NULLIF(c.name, ''), ARRAY[c.type]
		FROM kg_nodes v
		JOIN kg_edges e ON e.from_node = v.id
		JOIN kg_nodes c ON c.id = e.to_node
		WHERE v.type = 'Variable' AND v.name = $1
		  AND EXISTS (
			SELECT 1 FROM kg_edges hv
			JOIN kg_nodes val ON val.id = hv.to_node
			WHERE hv.from_node = v.id AND hv.type = 'HAS_VALUE' AND val.label = $2)`,
		params:  []string{"var_name", "val"},
		columns: []string{"rel_type", "connected_name", "labels"},
	},
	schemas.QueryRelatedVariableValues: {
		sql: `
		SELECT DISTINCT r.name, r.description, val2.label, ARRAY[r.type]
		FROM kg_nodes v
		JOIN kg_edges e ON e.from_node = v.id
		JOIN kg_nodes r ON r.id = e.to_node AND r.type = 'Variable'
		LEFT JOIN kg_edges hv ON hv.from_node = r.id AND hv.type = 'HAS_VALUE'
		LEFT JOIN kg_nodes val2 ON val2.id = hv.to_node AND val2.type = 'Value'
		WHERE v.type = 'Variable' AND v.name = $1`,
		params:  []string{"var_name"},
		columns: []string{"related_var", "related_desc", "related_val", "labels"},
	},
	schemas.QueryVariableValues: {
		sql: `
		SELECT val.label
		FROM kg_nodes v
		JOIN kg_edges hv ON hv.from_node = v.id AND hv.type = 'HAS_VALUE'
		JOIN kg_nodes val ON val.id = hv.to_node AND val.type = 'Value'
		WHERE v.type = 'Variable' AND v.name = $1
		ORDER BY val.label`,
		params:  []string{"var_name"},
		columns: []string{"label"},
	},
}

// PostgresStore keeps the graph in two relational tables.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.GraphStore = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("postgres_graph")}, nil
}

// EnsureSchema creates the node and edge tables if missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{createNodesTable, createEdgesTable} {
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create graph schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) Run(ctx context.Context, query schemas.QueryTemplate, params map[string]any) ([]schemas.Record, error) {
	tmpl, ok := sqlTemplates[query]
	if !ok {
		return nil, fmt.Errorf("unsupported query template %q", query)
	}
	args := make([]any, len(tmpl.params))
	for i, name := range tmpl.params {
		args[i] = params[name]
	}

	rows, err := p.pool.Query(ctx, tmpl.sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", query, err)
	}
	defer rows.Close()

	var out []schemas.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", query, err)
		}
		rec := make(schemas.Record, len(tmpl.columns))
		for i, col := range tmpl.columns {
			if i < len(values) {
				rec[col] = values[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", query, err)
	}
	return out, nil
}

// AddNode inserts or updates a node.
func (p *PostgresStore) AddNode(ctx context.Context, node schemas.Node) error {
	_, err := p.pool.Exec(ctx, upsertNode, node.ID, string(node.Type), nullable(node.Name), nullable(node.Label), nullable(node.Description))
	return err
}

// AddEdge inserts or updates an edge.
func (p *PostgresStore) AddEdge(ctx context.Context, edge schemas.Edge) error {
	_, err := p.pool.Exec(ctx, upsertEdge, edge.ID, edge.From, edge.To, string(edge.Type))
	return err
}

// ApplySeed writes a seed in a single transaction.
func (p *PostgresStore) ApplySeed(ctx context.Context, seed *Seed) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	if err := seed.Apply(ctx, txWriter{tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	p.log.Info("Seeded graph", zap.Int("nodes", len(seed.Nodes)), zap.Int("edges", len(seed.Edges)))
	return nil
}

func (p *PostgresStore) Close(context.Context) error {
	p.pool.Close()
	return nil
}

// txWriter applies upserts inside a transaction.
type txWriter struct{ tx pgx.Tx }

func (w txWriter) AddNode(ctx context.Context, node schemas.Node) error {
	_, err := w.tx.Exec(ctx, upsertNode, node.ID, string(node.Type), nullable(node.Name), nullable(node.Label), nullable(node.Description))
	return err
}

func (w txWriter) AddEdge(ctx context.Context, edge schemas.Edge) error {
	_, err := w.tx.Exec(ctx, upsertEdge, edge.ID, edge.From, edge.To, string(edge.Type))
	return err
}
