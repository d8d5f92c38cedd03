// Package synthesis renders graph context for the LLM and turns its answers
// into variable lists, value dictionaries and the final one-line response.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
)

// RelationshipSource fetches outgoing relationships for entries.
type RelationshipSource interface {
	VariableRelationships(ctx context.Context, varName string) ([]knowledgegraph.Relationship, error)
	ValueRelationships(ctx context.Context, varName, label string) ([]knowledgegraph.Relationship, error)
}

// Formatter renders result sets as text blocks, one per entry.
type Formatter struct {
	graph RelationshipSource
}

// NewFormatter creates a formatter backed by graph.
func NewFormatter(graph RelationshipSource) *Formatter {
	return &Formatter{graph: graph}
}

// Format issues one relationship query per entry and joins the blocks with
// a blank line, in result order.
func (f *Formatter) Format(ctx context.Context, rs schemas.ResultSet) (string, error) {
	blocks := make([]string, 0, len(rs))
	for _, r := range rs {
		block, err := f.block(ctx, r)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (f *Formatter) block(ctx context.Context, r schemas.ScoredResult) (string, error) {
	e := r.Entry
	var (
		header string
		rels   []knowledgegraph.Relationship
		err    error
	)
	if e.IsVariable() {
		header = fmt.Sprintf("Variable '%s' - %s (Category: %s, score=%.2f)", e.VarName, e.Description, e.Category, r.Score)
		rels, err = f.graph.VariableRelationships(ctx, e.VarName)
	} else {
		header = fmt.Sprintf("Value '%s' from Variable '%s' (Category: %s, score=%.2f)", e.Label, e.ParentVar, e.Category, r.Score)
		rels, err = f.graph.ValueRelationships(ctx, e.ParentVar, e.Label)
	}
	if err != nil {
		return "", err
	}
	return header + "\n" + RelationshipLines(rels), nil
}

// RelationshipLines renders one line per relationship that reaches a named
// node.
func RelationshipLines(rels []knowledgegraph.Relationship) string {
	var lines []string
	for _, rel := range rels {
		if rel.ConnectedName == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("➪ [%s] → %s (%s)", rel.Type, rel.ConnectedName, strings.Join(rel.Labels, ", ")))
	}
	return strings.Join(lines, "\n")
}
