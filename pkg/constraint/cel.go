package constraint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("artifact", cel.DynType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileCEL(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

func evalCEL(ctx context.Context, prg cel.Program, input map[string]any) (bool, error) {
	out, _, err := prg.ContextEval(ctx, input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// celValue converts decoded JSON into values the CEL type adapter accepts.
// json.Number becomes int64 when integral, float64 otherwise.
func celValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = celValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = celValue(e)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
