package execution

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/xkilldash9x/lancet/internal/dataset"
)

// BaseFrame is the binding every run starts with.
const BaseFrame = "df"

// describer is implemented by frames and deferred aggregates.
type describer interface {
	Describe() string
}

// State is the per-request set of named bindings shared by plan steps.
// Bindings are only ever added; an existing name is never replaced.
type State struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewState seeds a state with the base frame bound to df.
func NewState(df *dataset.Frame) *State {
	return &State{vars: map[string]any{BaseFrame: df}}
}

// Get returns the binding for name.
func (s *State) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Adopt binds name to v unless the name is already bound. It reports
// whether the binding was added.
func (s *State) Adopt(name string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; ok {
		return false
	}
	s.vars[name] = v
	return true
}

// Snapshot copies the current bindings.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Names lists bindings with df first and the rest in name order.
func (s *State) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		if k != BaseFrame {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	if _, ok := s.vars[BaseFrame]; ok {
		names = append([]string{BaseFrame}, names...)
	}
	return names
}

// Describe summarises each binding by kind, one "- 'name': ..." line each.
// Frames report their shape, numbers their value, collections their size
// and anything else its type.
func (s *State) Describe() string {
	names := s.Names()
	lines := make([]string, 0, len(names))
	for _, name := range names {
		v, _ := s.Get(name)
		lines = append(lines, fmt.Sprintf("- '%s': %s", name, describeValue(v)))
	}
	return strings.Join(lines, "\n")
}

func describeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case describer:
		return x.Describe()
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(x)
	case string:
		return "string"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("list with %d elements", rv.Len())
	case reflect.Map:
		return fmt.Sprintf("dict with %d elements", rv.Len())
	case reflect.Func:
		return "function"
	default:
		return fmt.Sprintf("%T", v)
	}
}
