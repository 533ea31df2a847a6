package udf

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// RegisterBuiltins adds the built-in scalar functions to a registry.
// Builtins are deterministic local-CPU functions and are never batched.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Function{
		{
			Name:          "len",
			Params:        []types.ColumnType{types.String},
			Result:        types.Int,
			Deterministic: true,
			Resource:      ResourceCPU,
			Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
				s, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("len: expected string, got %T", args[0])
				}
				return int64(len(s)), nil
			},
		},
		{
			Name:          "lower",
			Params:        []types.ColumnType{types.String},
			Result:        types.String,
			Deterministic: true,
			Resource:      ResourceCPU,
			Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
				s, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("lower: expected string, got %T", args[0])
				}
				return strings.ToLower(s), nil
			},
		},
		{
			Name:          "upper",
			Params:        []types.ColumnType{types.String},
			Result:        types.String,
			Deterministic: true,
			Resource:      ResourceCPU,
			Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
				s, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("upper: expected string, got %T", args[0])
				}
				return strings.ToUpper(s), nil
			},
		},
		{
			Name:          "concat",
			Params:        []types.ColumnType{types.String, types.String},
			Result:        types.String,
			Deterministic: true,
			Resource:      ResourceCPU,
			Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
				a, okA := args[0].(string)
				b, okB := args[1].(string)
				if !okA || !okB {
					return nil, fmt.Errorf("concat: expected strings, got %T and %T", args[0], args[1])
				}
				return a + b, nil
			},
		},
		{
			Name:          "ceil",
			Params:        []types.ColumnType{types.Float},
			Result:        types.Int,
			Deterministic: true,
			Resource:      ResourceCPU,
			Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
				f, ok := types.AsFloat(args[0])
				if !ok {
					return nil, fmt.Errorf("ceil: expected float, got %T", args[0])
				}
				return int64(math.Ceil(f)), nil
			},
		},
	}

	for _, f := range builtins {
		if err := r.Register(f); err != nil {
			return errors.NewInternalError(fmt.Sprintf("failed to register builtin %s", f.Name), err)
		}
	}
	return nil
}
