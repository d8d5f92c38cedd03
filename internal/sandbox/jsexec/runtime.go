// Package jsexec runs generated plan-step code as JavaScript in an isolated
// goja VM. Each attempt gets a fresh VM that can only reach the request's
// state bindings, the lancet helper namespace and a console routed to zap.
package jsexec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/dataset"
	"github.com/xkilldash9x/lancet/internal/execution"
)

// DefaultTimeout applies when the context carries no deadline.
const DefaultTimeout = 30 * time.Second

// ResultName is the binding read back as the step result.
const ResultName = "result"

// Runtime executes step code. It holds no VM between calls, so a single
// Runtime is safe for concurrent requests.
type Runtime struct {
	logger *zap.Logger
}

var _ execution.StepExecutor = (*Runtime)(nil)

// NewRuntime creates a runtime.
func NewRuntime(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{logger: logger.Named("jsexec")}
}

// Execute runs code against state. New top-level names are adopted into the
// state and the value of `result` is returned. Context cancellation
// interrupts the VM.
func (r *Runtime) Execute(ctx context.Context, code string, state *execution.State) (execution.StepOutcome, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	prog, err := goja.Parse("step.js", code)
	if err != nil {
		return execution.StepOutcome{}, fmt.Errorf("javascript syntax error: %w", err)
	}
	compiled, err := goja.CompileAST(prog, false)
	if err != nil {
		return execution.StepOutcome{}, fmt.Errorf("javascript compile error: %w", err)
	}

	vm := r.newVM(state.Snapshot())
	baseline := keySet(vm.GlobalObject().Keys())

	stop := watch(ctx, vm)
	defer stop()

	if _, err := vm.RunProgram(compiled); err != nil {
		return execution.StepOutcome{}, r.wrapError(ctx, err)
	}

	// Reading bindings back can run script code through getters, proxies or
	// valueOf, so it stays under the interrupt watcher.
	bound, res, err := r.collect(ctx, vm, prog, baseline)
	out := execution.StepOutcome{}
	for _, b := range bound {
		if state.Adopt(b.name, b.value) {
			out.Bound = append(out.Bound, b.name)
		}
	}
	if err != nil {
		return out, err
	}
	out.Result = res
	return out, nil
}

type binding struct {
	name  string
	value any
}

// collect exports the new top-level bindings and the settled result. A panic
// raised by an interrupt inside an export is returned as an error.
func (r *Runtime) collect(ctx context.Context, vm *goja.Runtime, prog *ast.Program, baseline map[string]bool) (bound []binding, res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			bound, res = nil, nil
			if ctx.Err() != nil {
				err = fmt.Errorf("javascript execution interrupted by context: %w", ctx.Err())
				return
			}
			err = fmt.Errorf("javascript error while reading bindings: %v", p)
		}
	}()

	for _, name := range candidateNames(prog, vm, baseline) {
		v, err := r.lookup(vm, name)
		if err != nil {
			return nil, nil, r.wrapError(ctx, err)
		}
		if v == nil || goja.IsUndefined(v) {
			continue
		}
		if _, isFn := goja.AssertFunction(v); isFn {
			r.logger.Debug("Not keeping function binding", zap.String("name", name))
			continue
		}
		bound = append(bound, binding{name: name, value: v.Export()})
	}

	result, err := r.lookup(vm, ResultName)
	if err != nil {
		return bound, nil, r.wrapError(ctx, err)
	}
	res, err = r.settle(result)
	return bound, res, err
}

// watch interrupts vm once ctx is done. The returned func stops watching
// and clears any pending interrupt.
func watch(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-watching
		vm.ClearInterrupt()
	}
}

func (r *Runtime) wrapError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("javascript execution interrupted by context: %w", ctx.Err())
	}
	var jsErr *goja.Exception
	if errors.As(err, &jsErr) {
		return fmt.Errorf("javascript exception: %s", jsErr.Value().String())
	}
	return fmt.Errorf("javascript error: %w", err)
}

// lookup resolves a global name, including let and const bindings that
// never reach the global object.
func (r *Runtime) lookup(vm *goja.Runtime, name string) (goja.Value, error) {
	v, err := vm.RunString(fmt.Sprintf("typeof %[1]s === 'undefined' ? undefined : %[1]s", name))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, err
		}
		return nil, nil
	}
	return v, nil
}

// settle unwraps promises that already resolved during the run. There is no
// event loop, so a pending promise can never settle.
func (r *Runtime) settle(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return v.Export(), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("javascript promise rejected: %v", promise.Result().Export())
	default:
		return nil, fmt.Errorf("javascript promise still pending at end of step")
	}
}

// candidateNames lists top-level declarations plus new global properties,
// sorted.
func candidateNames(prog *ast.Program, vm *goja.Runtime, baseline map[string]bool) []string {
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" {
			seen[name] = true
		}
	}
	for _, stmt := range prog.Body {
		var list []*ast.Binding
		switch s := stmt.(type) {
		case *ast.VariableStatement:
			list = s.List
		case *ast.LexicalDeclaration:
			list = s.List
		}
		for _, b := range list {
			if id, ok := b.Target.(*ast.Identifier); ok {
				add(string(id.Name))
			}
		}
	}
	for _, k := range vm.GlobalObject().Keys() {
		if !baseline[k] {
			add(k)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func keySet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}
