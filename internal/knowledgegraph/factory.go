package knowledgegraph

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// New builds the configured GraphStore and wraps it in a Client. When a seed
// file is configured it is loaded into the store before the client is
// returned; the in-memory store requires one.
func New(ctx context.Context, cfg config.GraphConfig, logger *zap.Logger) (*Client, error) {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, schemas.NewError(schemas.ErrKindGraph, "connect", err)
	}

	if cfg.SeedFile != "" {
		seed, err := LoadSeed(cfg.SeedFile)
		if err == nil {
			err = applySeed(ctx, store, seed)
		}
		if err != nil {
			_ = store.Close(ctx)
			return nil, schemas.NewError(schemas.ErrKindGraph, "seed", err)
		}
		logger.Info("Graph seeded", zap.String("file", cfg.SeedFile), zap.Int("nodes", len(seed.Nodes)), zap.Int("edges", len(seed.Edges)))
	}

	return NewClient(store, cfg.QueryTimeout, logger), nil
}

func newStore(ctx context.Context, cfg config.GraphConfig, logger *zap.Logger) (schemas.GraphStore, error) {
	switch cfg.Type {
	case config.GraphNeo4j:
		return NewNeo4jStore(ctx, cfg, logger)
	case config.GraphPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case config.GraphInMemory:
		if cfg.SeedFile == "" {
			return nil, fmt.Errorf("the in-memory graph needs graph.seed_file")
		}
		return NewInMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown graph type %q", cfg.Type)
	}
}

func applySeed(ctx context.Context, store schemas.GraphStore, seed *Seed) error {
	switch s := store.(type) {
	case *PostgresStore:
		return s.ApplySeed(ctx, seed)
	case Writer:
		return seed.Apply(ctx, s)
	default:
		return fmt.Errorf("graph store %T cannot be seeded", store)
	}
}
