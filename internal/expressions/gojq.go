package expressions

import (
	"context"
	"errors"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/influencer/pkg/schema"
)

// GoJQEngine runs jq filters over run views, run lists and approvals for
// the CLI's --jq flag. Compiled filters are cached; the engine is safe for
// concurrent use.
type GoJQEngine struct {
	compiled sync.Map // expression -> *gojq.Code
}

// NewGoJQEngine creates an engine with an empty cache.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs expression against data. One output is returned as is,
// several are collected into []any and none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.Query(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return results, nil
}

// Query runs expression against any JSON-serializable input and returns
// every output. A bare halt ends the stream without error.
func (e *GoJQEngine) Query(ctx context.Context, expression string, input any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	value, err := normalize(input)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq input is not JSON-serializable").WithCause(err)
	}

	var results []any
	iter := code.RunWithContext(ctx, value)
	for {
		v, ok := iter.Next()
		if !ok {
			return results, nil
		}
		runErr, isErr := v.(error)
		if !isErr {
			results = append(results, v)
			continue
		}
		var halt *gojq.HaltError
		if errors.As(runErr, &halt) && halt.Value() == nil {
			return results, nil
		}
		return nil, jqError(schema.ErrCodeExecution, "evaluation failed", expression, runErr)
	}
}

func (e *GoJQEngine) compile(expression string) (*gojq.Code, error) {
	if cached, ok := e.compiled.Load(expression); ok {
		return cached.(*gojq.Code), nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, jqError(schema.ErrCodeValidation, "parse error", expression, err)
	}
	// No $ENV: filters must not read the process environment, which holds API keys.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, jqError(schema.ErrCodeValidation, "compile error", expression, err)
	}
	actual, _ := e.compiled.LoadOrStore(expression, code)
	return actual.(*gojq.Code), nil
}

func jqError(code, what, expression string, cause error) *schema.Error {
	return schema.NewErrorf(code, "jq %s in %q: %s", what, expression, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"expression": expression})
}

var _ Engine = (*GoJQEngine)(nil)
