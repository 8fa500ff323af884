package runtime

import (
	"github.com/expr-lang/expr"
)

// EvaluateLegacyCondition evaluates the free-form "condition" expression
// string against ctx using expr-lang, for flows still using the legacy
// string-condition field instead of structured conditionData. ctx is
// exposed flat (its own keys are the expression's top-level variables,
// same convention as runtime/engine/yaml/evaluator.go — no "ctx."
// indirection). Undefined variables evaluate to nil rather than failing
// compilation; any compile or eval error is treated as a false condition.
func EvaluateLegacyCondition(expression string, ctx map[string]any) bool {
	definedFn := expr.Function("defined", func(params ...any) (any, error) {
		path, _ := params[0].(string)
		return !IsMissing(Get(ctx, path)), nil
	})

	opts := []expr.Option{
		expr.Env(ctx),
		expr.AllowUndefinedVariables(),
		definedFn,
	}

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return false
	}
	out, err := expr.Run(program, ctx)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
