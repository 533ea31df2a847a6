package expr

import (
	"context"
	"fmt"
	"time"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// CellReader supplies cell values during local evaluation. Implementations
// return the cell for a resolved column id.
type CellReader interface {
	ReadCell(colID int) types.Cell
}

// ErrDependencyErrored marks evaluation that short-circuited because an
// input cell is errored. OriginColumn identifies the failed input so the
// caller can propagate error provenance.
type ErrDependencyErrored struct {
	OriginColumn string
	OriginError  *types.CellError
}

func (e *ErrDependencyErrored) Error() string {
	return fmt.Sprintf("expr: dependency column %q is errored", e.OriginColumn)
}

// ErrDependencyPending marks evaluation that encountered an unevaluated
// input cell; the scheduler must order evaluation so this never happens for
// computed-column fills, but predicates over partially evaluated rows can
// observe it.
type ErrDependencyPending struct {
	Column string
}

func (e *ErrDependencyPending) Error() string {
	return fmt.Sprintf("expr: dependency column %q is pending", e.Column)
}

// Eval evaluates e against a single row. Call nodes invoke their function
// directly; the evaluation engine wraps Eval with retry and batching policy.
// SimilarityFn scores similarity nodes; it is nil outside query contexts.
func Eval(ctx context.Context, e Expr, row CellReader, simFn func(colID int, query []float32) (float64, error)) (types.Value, error) {
	switch n := e.(type) {
	case *ColumnRef:
		cell := row.ReadCell(n.ID)
		switch cell.State {
		case types.CellPresent:
			return cell.Value, nil
		case types.CellErrored:
			return nil, &ErrDependencyErrored{OriginColumn: n.Name, OriginError: cell.Error}
		default:
			return nil, &ErrDependencyPending{Column: n.Name}
		}

	case *Literal:
		return n.Value, nil

	case *BinaryExpr:
		return evalBinary(ctx, n, row, simFn)

	case *Call:
		args := make([]types.Value, len(n.Args))
		for i, a := range n.Args {
			v, err := Eval(ctx, a, row, simFn)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return n.Fn.Fn(ctx, args)

	case *Similarity:
		if simFn == nil {
			return nil, errors.NewIndexError(errors.CodeIndexUnavailable,
				fmt.Sprintf("no similarity scorer bound for column %q", n.Column.Name), nil)
		}
		return simFn(n.Column.ID, n.Query)
	}
	return nil, errors.NewInternalError(fmt.Sprintf("unknown expression node %T", e), nil)
}

func evalBinary(ctx context.Context, n *BinaryExpr, row CellReader, simFn func(int, []float32) (float64, error)) (types.Value, error) {
	// AND/OR short-circuit on the left operand. NULL operands count as
	// false, matching how NULL comparisons behave below.
	if n.Op == OpAnd || n.Op == OpOr {
		lv, err := Eval(ctx, n.Left, row, simFn)
		if err != nil {
			return nil, err
		}
		lb, err := asBool(n.Op, "left", lv)
		if err != nil {
			return nil, err
		}
		if n.Op == OpAnd && !lb {
			return false, nil
		}
		if n.Op == OpOr && lb {
			return true, nil
		}
		rv, err := Eval(ctx, n.Right, row, simFn)
		if err != nil {
			return nil, err
		}
		return asBool(n.Op, "right", rv)
	}

	lv, err := Eval(ctx, n.Left, row, simFn)
	if err != nil {
		return nil, err
	}
	rv, err := Eval(ctx, n.Right, row, simFn)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		// A NULL operand never matches, the same exclusion SQL applies
		// when the conjunct is pushed into the scan.
		if lv == nil || rv == nil {
			return false, nil
		}
		cmp, err := compareValues(lv, rv)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpEq:
			return cmp == 0, nil
		case OpNe:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}

	case OpAdd, OpSub, OpMul, OpDiv:
		return evalArith(n.Op, lv, rv, n.typ)
	}
	return nil, fmt.Errorf("expr: unknown operator %s", n.Op)
}

func asBool(op BinaryOp, side string, v types.Value) (bool, error) {
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expr: %s %s operand is %T, not bool", op, side, v)
	}
	return b, nil
}

func evalArith(op BinaryOp, lv, rv types.Value, result types.ColumnType) (types.Value, error) {
	// NULL propagates through arithmetic; the enclosing comparison then
	// evaluates to non-match.
	if lv == nil || rv == nil {
		return nil, nil
	}
	lf, okL := types.AsFloat(lv)
	rf, okR := types.AsFloat(rv)
	if !okL || !okR {
		return nil, fmt.Errorf("expr: %s requires numeric operands, got %T and %T", op, lv, rv)
	}
	var out float64
	switch op {
	case OpAdd:
		out = lf + rf
	case OpSub:
		out = lf - rf
	case OpMul:
		out = lf * rf
	case OpDiv:
		if rf == 0 {
			return nil, fmt.Errorf("expr: division by zero")
		}
		out = lf / rf
	}
	if result.Kind == types.KindInt {
		return int64(out), nil
	}
	return out, nil
}

func compareValues(a, b types.Value) (int, error) {
	if af, ok := types.AsFloat(a); ok {
		if bf, ok := types.AsFloat(b); ok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			}
			return 0, nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, nil
			case as > bs:
				return 1, nil
			}
			return 0, nil
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0, nil
			case !ab:
				return -1, nil
			}
			return 1, nil
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1, nil
			case at.After(bt):
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, fmt.Errorf("expr: cannot compare %T with %T", a, b)
}
