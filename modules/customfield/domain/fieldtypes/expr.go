package fieldtypes

import (
	"errors"
	"strings"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

var newExprEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("field", cel.StringType),
	)
}

const exprCacheSize = 256

var exprProgramCache = mustExprCache(exprCacheSize)

func mustExprCache(size int) *lru.Cache[string, cel.Program] {
	c, err := lru.New[string, cel.Program](size)
	if err != nil {
		panic(err)
	}
	return c
}

// CompileExpr checks that expr is a boolean expression over `value` and
// `field`. The most recently used programs are cached by expression text.
func CompileExpr(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := exprProgramCache.Get(expr); ok {
		return cached, nil
	}
	env, err := newExprEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.New("expression must evaluate to bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	exprProgramCache.Add(expr, program)
	return program, nil
}

func EvalExpr(expr string, fieldID string, value any) (bool, error) {
	program, err := CompileExpr(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"value": value, "field": fieldID})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("expression did not evaluate to bool")
	}
	return b, nil
}
