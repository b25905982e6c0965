// Package cel provides the CEL-backed precondition evaluator.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leylinehq/session-service/internal/core/expr"
)

// DefaultProgramCacheSize bounds the cache of compiled programs. Realms
// carry few distinct preconditions, so a small cache covers the hot set.
const DefaultProgramCacheSize = 128

// Evaluator implements expr.Evaluator using CEL. Precondition expressions
// see two variables: `claims`, the asserted claims map, and `now`, the
// evaluation instant as a timestamp.
type Evaluator struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

// NewEvaluator creates a CEL evaluator with a bounded compiled-program
// cache.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build cel environment: %w", err)
	}

	programs, err := lru.New[string, cel.Program](DefaultProgramCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build program cache: %w", err)
	}

	return &Evaluator{env: env, programs: programs}, nil
}

// Evaluate compiles (or reuses) the expression and evaluates it against the
// input. Only a result of exactly `true` passes; any other value is falsy.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, input expr.Input) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	claims := input.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}

	out, _, err := program.ContextEval(ctx, map[string]interface{}{
		"claims": claims,
		"now":    input.Now,
	})
	if err != nil {
		return false, &expr.RuntimeError{
			Expression: expression,
			Detail:     err.Error(),
			Err:        err,
		}
	}

	result, ok := out.Value().(bool)
	return ok && result, nil
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	if program, ok := e.programs.Get(expression); ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, &expr.CompileError{
			Expression: expression,
			Detail:     issues.Err().Error(),
		}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, &expr.CompileError{
			Expression: expression,
			Detail:     err.Error(),
		}
	}

	e.programs.Add(expression, program)

	return program, nil
}
