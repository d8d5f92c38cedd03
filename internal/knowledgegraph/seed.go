package knowledgegraph

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// Writer is implemented by stores that can be populated from a seed.
type Writer interface {
	AddNode(ctx context.Context, node schemas.Node) error
	AddEdge(ctx context.Context, edge schemas.Edge) error
}

// Seed is a serialised graph: a data dictionary of variables, their coded
// values and categories, plus variable-to-variable relationships.
type Seed struct {
	Nodes []schemas.Node `yaml:"nodes"`
	Edges []schemas.Edge `yaml:"edges"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// Apply writes all nodes, then all edges. Edges without an ID get one
// derived from their endpoints and type.
func (s *Seed) Apply(ctx context.Context, w Writer) error {
	for _, n := range s.Nodes {
		if err := w.AddNode(ctx, n); err != nil {
			return fmt.Errorf("seed node %s: %w", n.ID, err)
		}
	}
	for _, e := range s.Edges {
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s-%s-%s", e.From, e.Type, e.To)
		}
		if err := w.AddEdge(ctx, e); err != nil {
			return fmt.Errorf("seed edge %s: %w", e.ID, err)
		}
	}
	return nil
}
