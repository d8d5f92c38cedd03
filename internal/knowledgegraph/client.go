package knowledgegraph

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// EntryRow is one variable/category/value row of the data dictionary.
// ValueLabel is empty for variables without coded values.
type EntryRow struct {
	VarName     string
	Description string
	Category    string
	ValueLabel  string
}

// Relationship is an outgoing edge of a variable.
type Relationship struct {
	Type          string
	ConnectedName string
	Labels        []string
}

// RelatedValue is a (related variable, value) pair reached from a variable.
type RelatedValue struct {
	Variable    string
	Description string
	Value       string
	Labels      []string
}

// Client runs the query templates against a GraphStore with a per-query
// timeout, decoding rows into typed results. Failures carry GRAPH_ERROR.
type Client struct {
	store   schemas.GraphStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient wraps a store. A zero timeout disables the per-query deadline.
func NewClient(store schemas.GraphStore, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{store: store, timeout: timeout, logger: logger.Named("graph")}
}

// Store exposes the underlying store.
func (c *Client) Store() schemas.GraphStore { return c.store }

func (c *Client) run(ctx context.Context, op string, tmpl schemas.QueryTemplate, params map[string]any) ([]schemas.Record, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	rows, err := c.store.Run(ctx, tmpl, params)
	if err != nil {
		c.logger.Warn("Graph query failed", zap.String("template", string(tmpl)), zap.Error(err))
		return nil, schemas.NewError(schemas.ErrKindGraph, op, err)
	}
	return rows, nil
}

// EntryRows fetches every variable with its category and values.
func (c *Client) EntryRows(ctx context.Context) ([]EntryRow, error) {
	rows, err := c.run(ctx, "entry rows", schemas.QueryEntryRows, nil)
	if err != nil {
		return nil, err
	}
	out := make([]EntryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, EntryRow{
			VarName:     r.String("var_name"),
			Description: r.String("var_description"),
			Category:    r.String("category"),
			ValueLabel:  r.String("value_label"),
		})
	}
	return out, nil
}

// VariableRelationships lists the outgoing relationships of a variable.
func (c *Client) VariableRelationships(ctx context.Context, varName string) ([]Relationship, error) {
	rows, err := c.run(ctx, "variable relationships", schemas.QueryVariableRelationships, map[string]any{"var_name": varName})
	if err != nil {
		return nil, err
	}
	return toRelationships(rows), nil
}

// ValueRelationships lists the outgoing relationships of the variable that
// owns the value, or nothing when the value is unknown.
func (c *Client) ValueRelationships(ctx context.Context, varName, label string) ([]Relationship, error) {
	rows, err := c.run(ctx, "value relationships", schemas.QueryValueRelationships, map[string]any{"var_name": varName, "val": label})
	if err != nil {
		return nil, err
	}
	return toRelationships(rows), nil
}

// RelatedVariableValues lists related variables that carry at least one value.
func (c *Client) RelatedVariableValues(ctx context.Context, varName string) ([]RelatedValue, error) {
	rows, err := c.run(ctx, "related variable values", schemas.QueryRelatedVariableValues, map[string]any{"var_name": varName})
	if err != nil {
		return nil, err
	}
	var out []RelatedValue
	for _, r := range rows {
		rv := RelatedValue{
			Variable:    r.String("related_var"),
			Description: r.String("related_desc"),
			Value:       r.String("related_val"),
			Labels:      r.Strings("labels"),
		}
		if rv.Variable == "" || rv.Value == "" {
			continue
		}
		out = append(out, rv)
	}
	return out, nil
}

// ValuesForVariables maps each variable to its value labels in label order.
// Variables without values map to an empty slice.
func (c *Client) ValuesForVariables(ctx context.Context, names []string) (map[string][]string, error) {
	out := make(map[string][]string, len(names))
	for _, name := range names {
		rows, err := c.run(ctx, "variable values", schemas.QueryVariableValues, map[string]any{"var_name": name})
		if err != nil {
			return nil, err
		}
		labels := []string{}
		for _, r := range rows {
			if l := r.String("label"); l != "" {
				labels = append(labels, l)
			}
		}
		sort.Strings(labels)
		out[name] = labels
	}
	return out, nil
}

// Close releases the store.
func (c *Client) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}

func toRelationships(rows []schemas.Record) []Relationship {
	out := make([]Relationship, 0, len(rows))
	for _, r := range rows {
		rel := Relationship{
			Type:          r.String("rel_type"),
			ConnectedName: r.String("connected_name"),
			Labels:        r.Strings("labels"),
		}
		if rel.Type == "" {
			continue
		}
		out = append(out, rel)
	}
	return out
}
