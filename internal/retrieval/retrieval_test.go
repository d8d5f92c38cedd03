package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lancet/api/schemas"
	"github.com/xkilldash9x/lancet/internal/knowledgegraph"
	"github.com/xkilldash9x/lancet/internal/mocks"
	"github.com/xkilldash9x/lancet/internal/vectorindex"
)

var testRows = []knowledgegraph.EntryRow{
	{VarName: "surgical_approach", Description: "Surgical approach", Category: "Procedure", ValueLabel: "VATS"},
	{VarName: "surgical_approach", Description: "Surgical approach", Category: "Procedure", ValueLabel: "Thoracotomy"},
	{VarName: "surgical_approach", Description: "Surgical approach", Category: "Procedure", ValueLabel: "VATS"},
	{VarName: "mortality_30d", Description: "30-day mortality", Category: "Outcome", ValueLabel: "Dead"},
	{VarName: "age", Description: "Age at surgery", Category: "Demographics"},
	{VarName: "age", Description: "Age at surgery", Category: "Demographics"},
	{VarName: "smoking", Description: "Smoking status", Category: "Demographics"},
}

func testEmbedder() *mocks.KeywordEmbedder {
	return &mocks.KeywordEmbedder{Keywords: []string{"vats", "thoracotomy", "mortality", "age", "smoking", "dead", "alive"}}
}

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	entries := BuildEntries(testRows)
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	emb := testEmbedder()
	vecs, err := emb.Embed(context.Background(), texts)
	require.NoError(t, err)
	idx, err := vectorindex.NewFlatIndex(vecs)
	require.NoError(t, err)
	return NewRetriever(emb, idx, entries, zaptest.NewLogger(t))
}

func result(text string, score float64) schemas.ScoredResult {
	return schemas.ScoredResult{Entry: schemas.Entry{Type: schemas.EntryVariable, Text: text}, Score: score}
}

func TestBuildEntries(t *testing.T) {
	entries := BuildEntries(testRows)
	var texts []string
	for _, e := range entries {
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{
		"Value: VATS (from surgical_approach - Procedure)",
		"Value: Thoracotomy (from surgical_approach - Procedure)",
		"Value: Dead (from mortality_30d - Outcome)",
		"Variable: age - Age at surgery (Demographics)",
		"Variable: smoking - Smoking status (Demographics)",
	}, texts)
	assert.Equal(t, "surgical_approach", entries[0].ParentVar)
	assert.Equal(t, "age", entries[3].VarName)
}

func TestRetrieve_SortedAndBounded(t *testing.T) {
	r := newTestRetriever(t)

	got, err := r.Retrieve(context.Background(), "vats", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Value: VATS (from surgical_approach - Procedure)", got[0].Entry.Text)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Score, got[i].Score)
	}

	all, err := r.Retrieve(context.Background(), "anything", 50)
	require.NoError(t, err)
	assert.Len(t, all, len(r.Entries()), "length is min(top_k, entries)")
}

func TestRetrieve_Errors(t *testing.T) {
	empty, err := vectorindex.NewFlatIndex(nil)
	require.NoError(t, err)
	r := NewRetriever(testEmbedder(), empty, nil, zaptest.NewLogger(t))
	_, err = r.Retrieve(context.Background(), "q", 5)
	assert.True(t, errors.Is(err, schemas.ErrRetrieval))

	emb := new(mocks.MockEmbedder)
	emb.On("Embed", mock.Anything, []string{"q"}).Return(nil, errors.New("quota exceeded"))
	idx, _ := vectorindex.NewFlatIndex([][]float32{{1}})
	r = NewRetriever(emb, idx, []schemas.Entry{schemas.NewVariableEntry("a", "b", "c")}, zaptest.NewLogger(t))
	_, err = r.Retrieve(context.Background(), "q", 5)
	assert.Equal(t, schemas.ErrKindRetrieval, schemas.KindOf(err))
	assert.ErrorContains(t, err, "quota exceeded")
	emb.AssertExpectations(t)
}

func TestMerge(t *testing.T) {
	a, b, c := result("Variable: A", 0.1), result("Variable: B", 0.2), result("variable: a", 9)
	rs := schemas.ResultSet{a, b}

	assert.Equal(t, rs, Merge(rs, nil), "merge with nothing is the identity")
	assert.Equal(t, rs, Merge(rs, rs), "merge with itself is the identity")

	got := Merge(schemas.ResultSet{b}, schemas.ResultSet{c, a, result("Variable: D", 0)})
	if diff := cmp.Diff(schemas.ResultSet{b, c, result("Variable: D", 0)}, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}

	in := schemas.ResultSet{a}
	_ = Merge(in, schemas.ResultSet{b})
	assert.Len(t, in, 1, "inputs are not modified")
}

func TestChunk(t *testing.T) {
	rs := schemas.ResultSet{result("1", 0), result("2", 0), result("3", 0)}
	chunks := Chunk(rs, 2)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 1)
	assert.Empty(t, Chunk(nil, 10))
}

type stubFormatter struct{}

func (stubFormatter) Format(_ context.Context, rs schemas.ResultSet) (string, error) {
	return strings.Join(rs.Texts(), "\n"), nil
}

func TestReflect_ZeroStepsIsIdentity(t *testing.T) {
	llm := &mocks.ScriptedLLM{Default: "age"}
	r := NewReflector(llm, newTestRetriever(t), stubFormatter{}, 5, zaptest.NewLogger(t))
	in := schemas.ResultSet{result("Variable: X", 0)}

	out, err := r.Reflect(context.Background(), "q", in, "- age", 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Empty(t, llm.Prompts())
}

func TestReflect_GrowsMonotonically(t *testing.T) {
	retriever := newTestRetriever(t)
	llm := &mocks.ScriptedLLM{Default: "smoking\n\nVATS\n"}
	r := NewReflector(llm, retriever, stubFormatter{}, 1, zaptest.NewLogger(t))

	start, err := retriever.Retrieve(context.Background(), "vats", 1)
	require.NoError(t, err)

	prev := start
	for steps := 1; steps <= 3; steps++ {
		out, err := r.Reflect(context.Background(), "compare", start, "- age", steps)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(out), len(prev))
		assert.Equal(t, start, out[:len(start)], "existing results keep their order")
		prev = out
	}
	assert.Contains(t, prev.Texts(), "Variable: smoking - Smoking status (Demographics)")

	// One prompt per round across the 1, 2 and 3 step runs.
	assert.Equal(t, 6, llm.CountMatching("Column Context"))
}

func TestReflect_EarlyExitOnEmptyReply(t *testing.T) {
	llm := &mocks.ScriptedLLM{Default: "  \n"}
	r := NewReflector(llm, newTestRetriever(t), stubFormatter{}, 5, zaptest.NewLogger(t))
	in := schemas.ResultSet{result("Variable: X", 0)}

	out, err := r.Reflect(context.Background(), "q", in, "", 4)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Len(t, llm.Prompts(), 1)
}

func TestReflect_LLMError(t *testing.T) {
	llm := &mocks.ScriptedLLM{Rules: []mocks.Rule{{Match: "A user asked", Err: errors.New("503")}}}
	r := NewReflector(llm, newTestRetriever(t), stubFormatter{}, 5, zaptest.NewLogger(t))
	_, err := r.Reflect(context.Background(), "q", nil, "", 1)
	assert.True(t, errors.Is(err, schemas.ErrLLM))
}

type fakeNeighbors map[string][]knowledgegraph.RelatedValue

func (f fakeNeighbors) RelatedVariableValues(_ context.Context, name string) ([]knowledgegraph.RelatedValue, error) {
	return f[name], nil
}

var neighbors = fakeNeighbors{
	"surgical_approach": {
		{Variable: "mortality_30d", Value: "Dead"},
		{Variable: "mortality_30d", Value: "Alive"},
		{Variable: "age_group", Value: "Over 70"},
	},
}

func TestExpand_Thresholds(t *testing.T) {
	e := NewExpander(neighbors, testEmbedder(), nil, ExpanderOptions{}, zaptest.NewLogger(t))
	ctx := context.Background()

	none, err := e.Expand(ctx, "surgical_approach", "mortality after vats", 1.1)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := e.Expand(ctx, "surgical_approach", "mortality after vats", -1.1)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Value: Dead (from mortality_30d - expanded)", all[0].Entry.Text)
	for _, r := range all {
		assert.Equal(t, ExpansionScore, r.Score)
		assert.Equal(t, schemas.CategoryUnknown, r.Entry.Category)
	}

	missing, err := e.Expand(ctx, "age", "q", -1.1)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestExpand_BatchingDoesNotChangeResult(t *testing.T) {
	ctx := context.Background()
	one := NewExpander(neighbors, testEmbedder(), nil, ExpanderOptions{BatchSize: 1, Concurrency: 2}, zaptest.NewLogger(t))
	many := NewExpander(neighbors, testEmbedder(), nil, ExpanderOptions{BatchSize: 20}, zaptest.NewLogger(t))

	a, err := one.Expand(ctx, "surgical_approach", "mortality dead", 0.35)
	require.NoError(t, err)
	b, err := many.Expand(ctx, "surgical_approach", "mortality dead", 0.35)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
	assert.Less(t, len(a), 3, "the unrelated age group is filtered out")
}

func TestFilterWithLLM(t *testing.T) {
	llm := &mocks.ScriptedLLM{Default: "- Value: Dead (from mortality_30d - expanded)\nnone"}
	e := NewExpander(neighbors, testEmbedder(), llm, ExpanderOptions{ChunkSize: 2}, zaptest.NewLogger(t))
	all, err := e.Expand(context.Background(), "surgical_approach", "q", -1.1)
	require.NoError(t, err)

	kept, err := e.FilterWithLLM(context.Background(), "q", all)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "Value: Dead (from mortality_30d - expanded)", kept[0].Entry.Text)
	assert.Len(t, llm.Prompts(), 2, "one prompt per chunk")
}
