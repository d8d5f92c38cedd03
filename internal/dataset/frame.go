// Package dataset exposes the tabular dataset as lazy frames. Operations
// queue up and run on compute(), so generated analysis code reads like a
// deferred dataframe pipeline.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// MaxRecords caps the records materialised by Compute.
const MaxRecords = 500

type op struct {
	desc  string
	cols  []string // set by column selection
	apply func(dataframe.DataFrame) dataframe.DataFrame
}

// Frame is an immutable, lazily evaluated view over a dataframe. Every
// transformation returns a new Frame.
type Frame struct {
	base dataframe.DataFrame
	ops  []op

	mu     sync.Mutex
	cached *dataframe.DataFrame
}

// NewFrame wraps an in-memory dataframe.
func NewFrame(df dataframe.DataFrame) *Frame {
	return &Frame{base: df}
}

func (f *Frame) then(o op) *Frame {
	ops := make([]op, len(f.ops), len(f.ops)+1)
	copy(ops, f.ops)
	return &Frame{base: f.base, ops: append(ops, o)}
}

// materialize runs the queued operations once and caches the result.
func (f *Frame) materialize() (dataframe.DataFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil {
		return *f.cached, nil
	}
	df := f.base
	if df.Err != nil {
		return df, df.Err
	}
	for _, o := range f.ops {
		df = o.apply(df)
		if df.Err != nil {
			return df, fmt.Errorf("%s: %w", o.desc, df.Err)
		}
	}
	f.cached = &df
	return df, nil
}

// Filter keeps rows where col op value holds. Supported operators are
// ==, !=, >, >=, <, <= and in.
func (f *Frame) Filter(col, operator string, value any) (*Frame, error) {
	cmp, err := comparator(operator)
	if err != nil {
		return nil, err
	}
	value = normalize(value)
	return f.then(op{
		desc: fmt.Sprintf("filter %s %s %v", col, operator, value),
		apply: func(df dataframe.DataFrame) dataframe.DataFrame {
			if err := requireColumns(df, col); err != nil {
				return dataframe.DataFrame{Err: err}
			}
			return df.Filter(dataframe.F{Colname: col, Comparator: cmp, Comparando: value})
		},
	}), nil
}

// Where is an alias of Filter.
func (f *Frame) Where(col, operator string, value any) (*Frame, error) {
	return f.Filter(col, operator, value)
}

// Isin keeps rows whose col value is one of values.
func (f *Frame) Isin(col string, values []any) (*Frame, error) {
	return f.Filter(col, "in", values)
}

// NotNull drops rows with a missing col value.
func (f *Frame) NotNull(col string) *Frame {
	return f.then(op{
		desc: "notNull " + col,
		apply: func(df dataframe.DataFrame) dataframe.DataFrame {
			if err := requireColumns(df, col); err != nil {
				return dataframe.DataFrame{Err: err}
			}
			return df.Filter(dataframe.F{
				Colname:    col,
				Comparator: series.CompFunc,
				Comparando: func(el series.Element) bool { return !el.IsNA() },
			})
		},
	})
}

// Select keeps the named columns, in the given order.
func (f *Frame) Select(cols ...string) *Frame {
	return f.then(op{
		desc: "select " + strings.Join(cols, ", "),
		cols: cols,
		apply: func(df dataframe.DataFrame) dataframe.DataFrame {
			if err := requireColumns(df, cols...); err != nil {
				return dataframe.DataFrame{Err: err}
			}
			return df.Select(cols)
		},
	})
}

// SortBy orders rows by col, descending when desc is set.
func (f *Frame) SortBy(col string, desc bool) *Frame {
	return f.then(op{
		desc: "sortBy " + col,
		apply: func(df dataframe.DataFrame) dataframe.DataFrame {
			if err := requireColumns(df, col); err != nil {
				return dataframe.DataFrame{Err: err}
			}
			if desc {
				return df.Arrange(dataframe.RevSort(col))
			}
			return df.Arrange(dataframe.Sort(col))
		},
	})
}

// Head keeps the first n rows.
func (f *Frame) Head(n int) *Frame {
	return f.then(op{
		desc: fmt.Sprintf("head %d", n),
		apply: func(df dataframe.DataFrame) dataframe.DataFrame {
			n := max(0, min(n, df.Nrow()))
			idx := make([]int, n)
			for i := range idx {
				idx[i] = i
			}
			if n == 0 {
				return df.Filter(dataframe.F{Colidx: 0, Comparator: series.CompFunc, Comparando: func(series.Element) bool { return false }})
			}
			return df.Subset(idx)
		},
	})
}

// Columns lists the column names. Column selection is the only operation
// that changes them, so no rows are evaluated.
func (f *Frame) Columns() []string {
	names := f.base.Names()
	for _, o := range f.ops {
		if o.cols != nil {
			names = o.cols
		}
	}
	return names
}

// NumRows materialises the frame and returns its row count.
func (f *Frame) NumRows() (int, error) {
	df, err := f.materialize()
	if err != nil {
		return 0, err
	}
	return df.Nrow(), nil
}

// NumCols returns the column count.
func (f *Frame) NumCols() int {
	return len(f.Columns())
}

// Count defers the row count.
func (f *Frame) Count() *Aggregate {
	return &Aggregate{desc: "count", compute: func() (any, error) {
		return f.NumRows()
	}}
}

func (f *Frame) Mean(col string) *Aggregate   { return f.numeric("mean", col, mean) }
func (f *Frame) Median(col string) *Aggregate { return f.numeric("median", col, median) }
func (f *Frame) Sum(col string) *Aggregate    { return f.numeric("sum", col, sum) }
func (f *Frame) Min(col string) *Aggregate    { return f.numeric("min", col, minimum) }
func (f *Frame) Max(col string) *Aggregate    { return f.numeric("max", col, maximum) }
func (f *Frame) Std(col string) *Aggregate    { return f.numeric("std", col, stddev) }

// ValueCounts defers a count of rows per distinct col value. Missing values
// are counted under "NaN".
func (f *Frame) ValueCounts(col string) *Aggregate {
	return &Aggregate{desc: "valueCounts " + col, compute: func() (any, error) {
		df, err := f.materialize()
		if err != nil {
			return nil, err
		}
		if err := requireColumns(df, col); err != nil {
			return nil, err
		}
		counts := make(map[string]int)
		for _, v := range df.Col(col).Records() {
			counts[v]++
		}
		return counts, nil
	}}
}

func (f *Frame) numeric(name, col string, fn func([]float64) float64) *Aggregate {
	return &Aggregate{desc: name + " " + col, compute: func() (any, error) {
		df, err := f.materialize()
		if err != nil {
			return nil, err
		}
		if err := requireColumns(df, col); err != nil {
			return nil, err
		}
		return fn(present(df.Col(col).Float())), nil
	}}
}

// Result is a materialised frame.
type Result struct {
	Rows      int              `json:"rows"`
	Columns   []string         `json:"columns"`
	Records   []map[string]any `json:"records"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Compute materialises the frame. At most MaxRecords records are returned.
func (f *Frame) Compute() (*Result, error) {
	df, err := f.materialize()
	if err != nil {
		return nil, err
	}
	res := &Result{Rows: df.Nrow(), Columns: df.Names()}
	if df.Nrow() > MaxRecords {
		idx := make([]int, MaxRecords)
		for i := range idx {
			idx[i] = i
		}
		df = df.Subset(idx)
		res.Truncated = true
	}
	res.Records = df.Maps()
	return res, nil
}

// Describe reports the frame's shape without its contents.
func (f *Frame) Describe() string {
	rows, err := f.NumRows()
	if err != nil {
		return fmt.Sprintf("DataFrame (not computable: %v)", err)
	}
	return fmt.Sprintf("DataFrame with %d rows, %d columns", rows, f.NumCols())
}

// Concat stacks frames with identical columns.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("concat needs at least one frame")
	}
	out, err := frames[0].materialize()
	if err != nil {
		return nil, err
	}
	for _, fr := range frames[1:] {
		df, err := fr.materialize()
		if err != nil {
			return nil, err
		}
		out = out.RBind(df)
		if out.Err != nil {
			return nil, out.Err
		}
	}
	return NewFrame(out), nil
}

// Aggregate is a deferred scalar or mapping computed from a frame.
type Aggregate struct {
	desc    string
	compute func() (any, error)
	done    bool
	value   any
}

// Compute evaluates the aggregate once.
func (a *Aggregate) Compute() (any, error) {
	if a.done {
		return a.value, nil
	}
	v, err := a.compute()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.desc, err)
	}
	a.done, a.value = true, v
	return v, nil
}

// ValueOf lets script arithmetic use an aggregate directly.
func (a *Aggregate) ValueOf() (any, error) { return a.Compute() }

// Describe names the pending computation.
func (a *Aggregate) Describe() string {
	return "deferred " + a.desc + " (call compute())"
}

func requireColumns(df dataframe.DataFrame, cols ...string) error {
	names := make(map[string]bool, df.Ncol())
	for _, n := range df.Names() {
		names[n] = true
	}
	for _, c := range cols {
		if !names[c] {
			return fmt.Errorf("column %q not found", c)
		}
	}
	return nil
}

func comparator(operator string) (series.Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(operator)) {
	case "==", "=", "===", "eq":
		return series.Eq, nil
	case "!=", "!==", "<>", "ne":
		return series.Neq, nil
	case ">", "gt":
		return series.Greater, nil
	case ">=", "ge":
		return series.GreaterEq, nil
	case "<", "lt":
		return series.Less, nil
	case "<=", "le":
		return series.LessEq, nil
	case "in":
		return series.In, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", operator)
	}
}

// normalize converts script numbers into the int and float64 kinds the
// series elements accept.
func normalize(v any) any {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int32:
		return int(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func present(vals []float64) []float64 {
	out := vals[:0:0]
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	return sum(vals) / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

func minimum(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	m := vals[0]
	for _, v := range vals[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maximum(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	m := vals[0]
	for _, v := range vals[1:] {
		m = math.Max(m, v)
	}
	return m
}

// stddev is the sample standard deviation.
func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return math.NaN()
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// Mean ignores NaN values, as do Median and Sum.
func Mean(vals []float64) float64   { return mean(present(vals)) }
func Median(vals []float64) float64 { return median(present(vals)) }
func Sum(vals []float64) float64    { return sum(present(vals)) }

// Round rounds v to digits decimal places.
func Round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

// Pct is part/whole as a percentage, or NaN when whole is zero.
func Pct(part, whole float64) float64 {
	if whole == 0 {
		return math.NaN()
	}
	return part / whole * 100
}
