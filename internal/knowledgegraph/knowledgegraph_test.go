package knowledgegraph

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/config"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func seededStore(t *testing.T) *InMemoryStore {
	t.Helper()
	seed, err := LoadSeed("testdata/seed.yaml")
	require.NoError(t, err)
	store := NewInMemoryStore(zaptest.NewLogger(t))
	require.NoError(t, seed.Apply(context.Background(), store))
	return store
}

func TestInMemoryStore_AddEdgeValidation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(nil)
	require.NoError(t, store.AddNode(ctx, schemas.Node{ID: "a", Type: schemas.NodeVariable, Name: "a"}))

	err := store.AddEdge(ctx, schemas.Edge{ID: "e", From: "a", To: "missing", Type: schemas.RelationshipRelatedTo})
	assert.ErrorContains(t, err, "destination node")
	err = store.AddEdge(ctx, schemas.Edge{ID: "e", From: "missing", To: "a", Type: schemas.RelationshipRelatedTo})
	assert.ErrorContains(t, err, "source node")
	assert.Error(t, store.AddNode(ctx, schemas.Node{Type: schemas.NodeValue}))

	node, err := store.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", node.Name)
	_, err = store.GetNode(ctx, "nope")
	assert.Error(t, err)
}

func TestInMemoryStore_MovedEdge(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(nil)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.AddNode(ctx, schemas.Node{ID: id, Type: schemas.NodeVariable, Name: id}))
	}
	require.NoError(t, store.AddEdge(ctx, schemas.Edge{ID: "e1", From: "a", To: "b", Type: schemas.RelationshipRelatedTo}))
	require.NoError(t, store.AddEdge(ctx, schemas.Edge{ID: "e1", From: "c", To: "b", Type: schemas.RelationshipRelatedTo}))

	rows, err := store.Run(ctx, schemas.QueryVariableRelationships, map[string]any{"var_name": "a"})
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = store.Run(ctx, schemas.QueryVariableRelationships, map[string]any{"var_name": "c"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInMemoryStore_UnsupportedTemplate(t *testing.T) {
	_, err := NewInMemoryStore(nil).Run(context.Background(), "bogus", nil)
	assert.Error(t, err)
}

func TestClient_EntryRows(t *testing.T) {
	client := NewClient(seededStore(t), time.Second, zaptest.NewLogger(t))
	rows, err := client.EntryRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []EntryRow{
		{VarName: "surgical_approach", Description: "Surgical approach", Category: "Procedure", ValueLabel: "VATS"},
		{VarName: "surgical_approach", Description: "Surgical approach", Category: "Procedure", ValueLabel: "Thoracotomy"},
		{VarName: "mortality_30d", Description: "30-day mortality", Category: "Outcome", ValueLabel: "Alive"},
		{VarName: "mortality_30d", Description: "30-day mortality", Category: "Outcome", ValueLabel: "Dead"},
		{VarName: "age", Description: "Age at surgery", Category: "Demographics"},
	}, rows)
}

func TestClient_Relationships(t *testing.T) {
	ctx := context.Background()
	client := NewClient(seededStore(t), 0, zaptest.NewLogger(t))

	rels, err := client.VariableRelationships(ctx, "surgical_approach")
	require.NoError(t, err)
	require.Len(t, rels, 5)
	assert.Equal(t, Relationship{Type: "BELONGS_TO", ConnectedName: "Procedure", Labels: []string{"Category"}}, rels[0])
	assert.Equal(t, "", rels[1].ConnectedName, "values carry no name")
	assert.Equal(t, Relationship{Type: "RELATED_TO", ConnectedName: "mortality_30d", Labels: []string{"Variable"}}, rels[3])

	rels, err = client.ValueRelationships(ctx, "surgical_approach", "VATS")
	require.NoError(t, err)
	assert.Len(t, rels, 5)

	rels, err = client.ValueRelationships(ctx, "surgical_approach", "Robotic")
	require.NoError(t, err)
	assert.Empty(t, rels)

	rels, err = client.VariableRelationships(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestClient_RelatedVariableValues(t *testing.T) {
	client := NewClient(seededStore(t), 0, zaptest.NewLogger(t))
	got, err := client.RelatedVariableValues(context.Background(), "surgical_approach")
	require.NoError(t, err)
	assert.Equal(t, []RelatedValue{
		{Variable: "mortality_30d", Description: "30-day mortality", Value: "Alive", Labels: []string{"Variable"}},
		{Variable: "mortality_30d", Description: "30-day mortality", Value: "Dead", Labels: []string{"Variable"}},
	}, got, "related variables without values are dropped")
}

func TestClient_ValuesForVariables(t *testing.T) {
	client := NewClient(seededStore(t), 0, zaptest.NewLogger(t))
	got, err := client.ValuesForVariables(context.Background(), []string{"surgical_approach", "age", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"surgical_approach": {"Thoracotomy", "VATS"},
		"age":               {},
		"nope":              {},
	}, got)
}

type failingStore struct{}

func (failingStore) Run(context.Context, schemas.QueryTemplate, map[string]any) ([]schemas.Record, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Close(context.Context) error { return nil }

func TestClient_WrapsGraphErrors(t *testing.T) {
	client := NewClient(failingStore{}, time.Second, zap.NewNop())
	_, err := client.EntryRows(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrGraph))
	assert.ErrorContains(t, err, "connection refused")

	_, err = client.ValuesForVariables(context.Background(), []string{"x"})
	assert.Equal(t, schemas.ErrKindGraph, schemas.KindOf(err))
}

type slowStore struct{ failingStore }

func (slowStore) Run(ctx context.Context, _ schemas.QueryTemplate, _ map[string]any) ([]schemas.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClient_QueryTimeout(t *testing.T) {
	client := NewClient(slowStore{}, 10*time.Millisecond, zap.NewNop())
	_, err := client.VariableRelationships(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(err, schemas.ErrGraph))
}

func TestSeed_DefaultEdgeIDs(t *testing.T) {
	seed, err := LoadSeed("testdata/seed.yaml")
	require.NoError(t, err)
	store := NewInMemoryStore(nil)
	require.NoError(t, seed.Apply(context.Background(), store))
	_, ok := store.edges["var-approach-RELATED_TO-var-mort"]
	assert.True(t, ok)

	_, err = LoadSeed("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestTemplates_CoverEveryQuery(t *testing.T) {
	all := []schemas.QueryTemplate{
		schemas.QueryEntryRows, schemas.QueryVariableRelationships, schemas.QueryValueRelationships,
		schemas.QueryRelatedVariableValues, schemas.QueryVariableValues,
	}
	for _, q := range all {
		assert.Contains(t, cypherTemplates, q)
		assert.Contains(t, sqlTemplates, q)
	}
}

// newMockPool monitors pings so NewPostgresStore's health check is an
// expectation like any other query.
func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool
}

func TestPostgresStore_PingFailure(t *testing.T) {
	mockPool := newMockPool(t)

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.ErrorContains(t, err, "failed to ping database")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_Run(t *testing.T) {
	mockPool := newMockPool(t)

	mockPool.ExpectPing()
	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlTemplates[schemas.QueryVariableRelationships].sql)).
		WithArgs("surgical_approach").
		WillReturnRows(pgxmock.NewRows([]string{"type", "nullif", "array"}).
			AddRow("RELATED_TO", "mortality_30d", []string{"Variable"}).
			AddRow("HAS_VALUE", nil, []string{"Value"}))

	rows, err := store.Run(context.Background(), schemas.QueryVariableRelationships, map[string]any{"var_name": "surgical_approach"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "mortality_30d", rows[0].String("connected_name"))
	assert.Equal(t, []string{"Variable"}, rows[0].Strings("labels"))
	assert.Equal(t, "", rows[1].String("connected_name"))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_RunQueryError(t *testing.T) {
	mockPool := newMockPool(t)

	mockPool.ExpectPing()
	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlTemplates[schemas.QueryEntryRows].sql)).
		WillReturnError(errors.New("relation kg_nodes does not exist"))

	_, err = store.Run(context.Background(), schemas.QueryEntryRows, nil)
	assert.ErrorContains(t, err, "kg_nodes does not exist")

	_, err = store.Run(context.Background(), "bogus", nil)
	assert.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_ApplySeed(t *testing.T) {
	mockPool := newMockPool(t)

	mockPool.ExpectPing()
	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	seed := &Seed{
		Nodes: []schemas.Node{
			{ID: "v", Type: schemas.NodeVariable, Name: "age", Description: "Age"},
			{ID: "c", Type: schemas.NodeCategory, Name: "Demographics"},
		},
		Edges: []schemas.Edge{{From: "v", To: "c", Type: schemas.RelationshipBelongsTo}},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(upsertNode)).
		WithArgs("v", "Variable", "age", nil, "Age").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(upsertNode)).
		WithArgs("c", "Category", "Demographics", nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(upsertEdge)).
		WithArgs("v-BELONGS_TO-c", "v", "c", "BELONGS_TO").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, store.ApplySeed(context.Background(), seed))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_ApplySeedRollsBack(t *testing.T) {
	mockPool := newMockPool(t)

	mockPool.ExpectPing()
	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(upsertNode)).
		WithArgs("v", "Variable", "age", nil, nil).
		WillReturnError(errors.New("unique violation"))
	mockPool.ExpectRollback()

	err = store.ApplySeed(context.Background(), &Seed{Nodes: []schemas.Node{{ID: "v", Type: schemas.NodeVariable, Name: "age"}}})
	assert.ErrorContains(t, err, "unique violation")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	mockPool := newMockPool(t)

	mockPool.ExpectPing()
	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(createNodesTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mockPool.ExpectExec(flexibleSQLMatcher(createEdgesTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestNew_InMemory(t *testing.T) {
	client, err := New(context.Background(), config.GraphConfig{Type: config.GraphInMemory, SeedFile: "testdata/seed.yaml"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	rows, err := client.EntryRows(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.NoError(t, client.Close(context.Background()))

	_, err = New(context.Background(), config.GraphConfig{Type: config.GraphInMemory}, zap.NewNop())
	assert.True(t, errors.Is(err, schemas.ErrGraph))

	_, err = New(context.Background(), config.GraphConfig{Type: "arangodb"}, zap.NewNop())
	assert.Error(t, err)
}
