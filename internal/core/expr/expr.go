// Package expr defines the expression evaluator interface used to test
// security context preconditions against asserted claims. Implementations
// live under internal/infrastructure/expr.
package expr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Input is the data a precondition is evaluated against.
type Input struct {
	// Claims are the claims asserted when the session was requested.
	Claims map[string]interface{}

	// Now is the instant of the evaluation. Preconditions may compare
	// claim timestamps against it.
	Now time.Time
}

// Evaluator evaluates a precondition expression against an input and
// reports its truthiness. Compile and runtime failures are returned as
// CompileError and RuntimeError respectively; callers are expected to treat
// both as an ordinary falsy result.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, input Input) (bool, error)
}

// CompileError reports an expression that failed to compile.
type CompileError struct {
	Expression string
	Detail     string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("error compiling precondition: %s", e.Detail)
}

// RuntimeError reports an expression that compiled but failed to evaluate.
type RuntimeError struct {
	Expression string
	Detail     string
	Err        error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("error evaluating precondition: %s", e.Detail)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsEvaluationError reports whether err is a compile or runtime failure of
// the expression itself, as opposed to an evaluator malfunction.
func IsEvaluationError(err error) bool {
	var compileErr *CompileError
	var runtimeErr *RuntimeError
	return errors.As(err, &compileErr) || errors.As(err, &runtimeErr)
}
