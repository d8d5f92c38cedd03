package jsexec_test

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/lancet/internal/dataset"
	"github.com/xkilldash9x/lancet/internal/execution"
	"github.com/xkilldash9x/lancet/internal/sandbox/jsexec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const cohortCSV = `id,surgicalapproach,mortality30d,age
1,1,0,64
2,1,0,71
3,2,1,80
4,2,0,75
5,1,1,58
`

func newState(t *testing.T) *execution.State {
	t.Helper()
	f, err := dataset.Read(strings.NewReader(cohortCSV), dataset.FormatCSV)
	require.NoError(t, err)
	return execution.NewState(f)
}

func newTestRuntime(t *testing.T) *jsexec.Runtime {
	t.Helper()
	return jsexec.NewRuntime(zaptest.NewLogger(t))
}

func TestExecute_Basic(t *testing.T) {
	state := newState(t)
	out, err := newTestRuntime(t).Execute(context.Background(), `result = (5 + 5) * 2`, state)
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Result)
	assert.Equal(t, []string{"result"}, out.Bound)
}

func TestExecute_FrameBindingsAreAdopted(t *testing.T) {
	state := newState(t)
	code := `
const df_vats = df.filter("surgicalapproach", "==", 1);
let df_thoracotomy = df.where("surgicalapproach", "==", 2);
result = df_vats.count().compute();`

	out, err := newTestRuntime(t).Execute(context.Background(), code, state)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Result)
	assert.Equal(t, []string{"df_thoracotomy", "df_vats", "result"}, out.Bound)

	v, ok := state.Get("df_vats")
	require.True(t, ok)
	frame, ok := v.(*dataset.Frame)
	require.True(t, ok)
	rows, err := frame.NumRows()
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	next, err := newTestRuntime(t).Execute(context.Background(),
		`result = df_thoracotomy.mean("age").compute()`, state)
	require.NoError(t, err)
	assert.Equal(t, 77.5, next.Result, "later steps see earlier bindings")
}

func TestExecute_ExistingBindingsAreKept(t *testing.T) {
	state := newState(t)
	out, err := newTestRuntime(t).Execute(context.Background(), `var df = 5; var extra = [1, 2, 3];`, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"extra"}, out.Bound)

	v, _ := state.Get("df")
	assert.IsType(t, &dataset.Frame{}, v)
	assert.Contains(t, state.Describe(), "- 'extra': list with 3 elements")
}

func TestExecute_ComputeRecords(t *testing.T) {
	out, err := newTestRuntime(t).Execute(context.Background(),
		`result = df.select("id", "age").sortBy("age", true).head(1).compute()`, newState(t))
	require.NoError(t, err)
	res, ok := out.Result.(*dataset.Result)
	require.True(t, ok)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, 80, res.Records[0]["age"])
}

func TestExecute_Helpers(t *testing.T) {
	out, err := newTestRuntime(t).Execute(context.Background(),
		`result = [lancet.round(lancet.mean([1, 2, 4]), 2), lancet.pct(1, 4), lancet.sum([1, 2])]`, newState(t))
	require.NoError(t, err)
	assert.Equal(t, []any{2.33, int64(25), int64(3)}, out.Result, "integral numbers export as int64")
}

func TestExecute_FunctionsAreNotAdopted(t *testing.T) {
	state := newState(t)
	out, err := newTestRuntime(t).Execute(context.Background(), `function helper() { return 1 }; var n = helper();`, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, out.Bound)
	_, ok := state.Get("helper")
	assert.False(t, ok)
}

func TestExecute_Exception(t *testing.T) {
	_, err := newTestRuntime(t).Execute(context.Background(), `throw new Error("Intentional Error");`, newState(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "javascript exception:")
	assert.Contains(t, err.Error(), "Intentional Error")
}

func TestExecute_GoErrorsBecomeExceptions(t *testing.T) {
	_, err := newTestRuntime(t).Execute(context.Background(), `result = df.mean("nope").compute()`, newState(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "nope" not found`)
}

func TestExecute_SyntaxError(t *testing.T) {
	_, err := newTestRuntime(t).Execute(context.Background(), `result = (`, newState(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "javascript syntax error")
}

func TestExecute_NoAmbientCapabilities(t *testing.T) {
	for _, code := range []string{`require("fs")`, `fetch("http://example.com")`, `process.exit(1)`} {
		_, err := newTestRuntime(t).Execute(context.Background(), code, newState(t))
		require.Error(t, err, code)
		assert.Contains(t, err.Error(), "ReferenceError", code)
	}
}

func TestExecute_ConsoleRoutesToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rt := jsexec.NewRuntime(zap.New(core))

	_, err := rt.Execute(context.Background(), `console.log("rows", 5); console.warn("careful")`, newState(t))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("rows 5").Len())
	assert.Equal(t, 1, logs.FilterMessage("careful").FilterField(zap.String("source", "console")).Len())
}

func TestExecute_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestRuntime(t).Execute(ctx, `while(true) {}`, newState(t))
	duration := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "javascript execution interrupted by context")
	assert.Less(t, duration, 500*time.Millisecond)
}

func TestExecute_TimeoutWhileReadingResult(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"getter on result", `result = { get x() { while (true) {} } };`},
		{"getter on binding", `var spinner = { get y() { while (true) {} } };`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			state := newState(t)

			errChan := make(chan error, 1)
			go func() {
				_, err := newTestRuntime(t).Execute(ctx, tt.code, state)
				errChan <- err
			}()

			select {
			case err := <-errChan:
				require.Error(t, err)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				assert.Contains(t, err.Error(), "interrupted by context")
			case <-time.After(2 * time.Second):
				t.Fatal("Execution did not stop at the step deadline")
			}
			assert.Equal(t, []string{"df"}, keys(state), "nothing is adopted from an interrupted step")
		})
	}
}

func keys(state *execution.State) []string {
	out := make([]string, 0)
	for k := range state.Snapshot() {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestExecute_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := newTestRuntime(t)
	state := newState(t)

	errChan := make(chan error)
	go func() {
		_, err := rt.Execute(ctx, `while(true) {}`, state)
		errChan <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Execution did not stop after cancellation")
	}
}

func TestExecute_Promises(t *testing.T) {
	out, err := newTestRuntime(t).Execute(context.Background(), `result = Promise.resolve(7)`, newState(t))
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.Result)

	_, err = newTestRuntime(t).Execute(context.Background(), `result = Promise.reject("nope")`, newState(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promise rejected: nope")

	_, err = newTestRuntime(t).Execute(context.Background(), `result = new Promise(() => {})`, newState(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still pending")
}
