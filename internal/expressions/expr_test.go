package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/influencer/pkg/schema"
)

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, code), "want %s, got %v", code, err)
}

func TestExprEngine_Name(t *testing.T) {
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "42", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = e.Evaluate(ctx, `output.suspendResponse ?? "none"`, map[string]any{
		"output": map[string]any{"suspendResponse": "Please review"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Please review", out)

	out, err = e.Evaluate(ctx, `len(filter(tweets, .likes > 10))`, map[string]any{
		"tweets": []any{map[string]any{"likes": 5}, map[string]any{"likes": 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestExpr_EmptyAndInvalid(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	requireCode(t, err, schema.ErrCodeValidation)

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestPredicate_Approved(t *testing.T) {
	e := NewExprEngine()
	p, err := e.Compile("output.approved == true")
	require.NoError(t, err)
	assert.Equal(t, "output.approved == true", p.String())

	ok, err := p.Eval(map[string]any{"output": map[string]any{"approved": true}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Eval(map[string]any{"output": map[string]any{"approved": false}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPredicate_IterationBound(t *testing.T) {
	p, err := NewExprEngine().Compile("output.approved || iteration >= 3")
	require.NoError(t, err)

	for i, want := range []bool{false, false, false, true} {
		ok, err := p.Eval(map[string]any{"output": map[string]any{"approved": false}, "iteration": i})
		require.NoError(t, err)
		assert.Equal(t, want, ok, "iteration %d", i)
	}
}

func TestPredicate_NonBoolRejectedAtCompile(t *testing.T) {
	_, err := NewExprEngine().Compile(`"yes"`)
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestPredicate_RuntimeNonBool(t *testing.T) {
	p, err := NewExprEngine().Compile("output.approved")
	require.NoError(t, err)

	_, err = p.Eval(map[string]any{"output": map[string]any{"approved": "yes"}})
	require.Error(t, err)
}

func TestExpr_CacheSeparatesPredicates(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "1 == 1", nil)
	require.NoError(t, err)
	_, err = e.Compile("1 == 1")
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 2)
}

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "n * 2", map[string]any{"n": i})
			assert.NoError(t, err)
			assert.Equal(t, i*2, out)
		}(i)
	}
	wg.Wait()
}
