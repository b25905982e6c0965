// Package cel_test provides unit tests for the CEL precondition evaluator.
package cel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leylinehq/session-service/internal/core/expr"
	celexpr "github.com/leylinehq/session-service/internal/infrastructure/expr/cel"
)

func newEvaluator(t *testing.T) *celexpr.Evaluator {
	t.Helper()

	evaluator, err := celexpr.NewEvaluator()
	require.NoError(t, err)
	return evaluator
}

func TestEvaluate_Literals(t *testing.T) {
	evaluator := newEvaluator(t)
	ctx := context.Background()

	passed, err := evaluator.Evaluate(ctx, "true", expr.Input{})
	require.NoError(t, err)
	assert.True(t, passed)

	passed, err = evaluator.Evaluate(ctx, "false", expr.Input{})
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestEvaluate_NonBooleanResultIsFalsy(t *testing.T) {
	evaluator := newEvaluator(t)

	passed, err := evaluator.Evaluate(context.Background(), `"yes"`, expr.Input{})
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestEvaluate_ClaimsAccess(t *testing.T) {
	evaluator := newEvaluator(t)
	ctx := context.Background()
	input := expr.Input{
		Claims: map[string]interface{}{"sub": "user-1", "role": "admin"},
	}

	passed, err := evaluator.Evaluate(ctx, `"sub" in claims && claims["role"] == "admin"`, input)
	require.NoError(t, err)
	assert.True(t, passed)

	passed, err = evaluator.Evaluate(ctx, `claims["role"] == "viewer"`, input)
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestEvaluate_NowComparison(t *testing.T) {
	evaluator := newEvaluator(t)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	freshClaims := `"sub" in claims && int(claims["iat"]) >= int(now) - 300`

	passed, err := evaluator.Evaluate(context.Background(), freshClaims, expr.Input{
		Claims: map[string]interface{}{"sub": "user-1", "iat": now.Unix() - 60},
		Now:    now,
	})
	require.NoError(t, err)
	assert.True(t, passed)

	passed, err = evaluator.Evaluate(context.Background(), freshClaims, expr.Input{
		Claims: map[string]interface{}{"sub": "user-1", "iat": now.Unix() - 3600},
		Now:    now,
	})
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestEvaluate_CompileError(t *testing.T) {
	evaluator := newEvaluator(t)

	_, err := evaluator.Evaluate(context.Background(), "claims[", expr.Input{})
	require.Error(t, err)
	assert.True(t, expr.IsEvaluationError(err))

	var compileErr *expr.CompileError
	assert.ErrorAs(t, err, &compileErr)
}

func TestEvaluate_RuntimeError(t *testing.T) {
	evaluator := newEvaluator(t)

	// Indexing a missing key is a runtime failure in CEL.
	_, err := evaluator.Evaluate(context.Background(), `claims["missing"] == "x"`, expr.Input{
		Claims: map[string]interface{}{},
	})
	require.Error(t, err)
	assert.True(t, expr.IsEvaluationError(err))

	var runtimeErr *expr.RuntimeError
	assert.ErrorAs(t, err, &runtimeErr)
}

func TestEvaluate_NilClaims(t *testing.T) {
	evaluator := newEvaluator(t)

	passed, err := evaluator.Evaluate(context.Background(), `"sub" in claims`, expr.Input{})
	require.NoError(t, err)
	assert.False(t, passed)
}
