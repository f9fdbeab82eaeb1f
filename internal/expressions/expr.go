package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/influencer/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions. Compiled programs are cached
// and shared across goroutines.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[exprKey]*vm.Program
}

type exprKey struct {
	expression string
	asBool     bool
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[exprKey]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs expression with the keys of data as top-level variables.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.compile(expression, false)
	if err != nil {
		return nil, err
	}
	return run(prg, expression, data)
}

// Predicate is a compiled boolean expression.
type Predicate struct {
	expression string
	program    *vm.Program
}

// Compile compiles expression as a predicate. Syntax errors and
// non-boolean results are reported here rather than at evaluation time.
func (e *ExprEngine) Compile(expression string) (*Predicate, error) {
	prg, err := e.compile(expression, true)
	if err != nil {
		return nil, err
	}
	return &Predicate{expression: expression, program: prg}, nil
}

// String returns the source expression.
func (p *Predicate) String() string { return p.expression }

// Eval evaluates the predicate against env. Undefined variables are nil.
func (p *Predicate) Eval(env map[string]any) (bool, error) {
	out, err := run(p.program, p.expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"predicate %q returned %T, want bool", p.expression, out)
	}
	return b, nil
}

func run(prg *vm.Program, expression string, env map[string]any) (any, error) {
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func (e *ExprEngine) compile(expression string, asBool bool) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	key := exprKey{expression: expression, asBool: asBool}

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if asBool {
		opts = append(opts, expr.AsBool())
	}
	prg, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[key] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
