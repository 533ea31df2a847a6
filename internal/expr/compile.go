package expr

import (
	"fmt"
	"sort"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
)

// ColumnMeta is the compiler's view of one column.
type ColumnMeta struct {
	ID       int
	Name     string
	Type     types.ColumnType
	Computed bool
}

// Resolver resolves column names for the compiler. The catalog's schema
// snapshot implements it.
type Resolver interface {
	ResolveColumn(name string) (ColumnMeta, bool)
}

// Check type-checks an expression against a schema snapshot and a function
// registry. It resolves column references and function names in place and
// returns a SchemaError on any mismatch.
func Check(e Expr, schema Resolver, fns *udf.Registry) error {
	switch n := e.(type) {
	case *ColumnRef:
		meta, ok := schema.ResolveColumn(n.Name)
		if !ok {
			return errors.NewSchemaError(errors.CodeDanglingReference,
				fmt.Sprintf("column %q does not exist", n.Name))
		}
		n.ID = meta.ID
		n.typ = meta.Type
		return nil

	case *Literal:
		return nil

	case *BinaryExpr:
		if err := Check(n.Left, schema, fns); err != nil {
			return err
		}
		if err := Check(n.Right, schema, fns); err != nil {
			return err
		}
		return checkBinary(n)

	case *Call:
		fn, err := fns.Lookup(n.FnName)
		if err != nil {
			return err
		}
		argTypes := make([]types.ColumnType, len(n.Args))
		for i, a := range n.Args {
			if err := Check(a, schema, fns); err != nil {
				return err
			}
			argTypes[i] = a.Type()
		}
		if err := fn.CheckArgs(argTypes); err != nil {
			return err
		}
		n.Fn = fn
		return nil

	case *Similarity:
		if err := Check(n.Column, schema, fns); err != nil {
			return err
		}
		ct := n.Column.Type()
		if ct.Kind != types.KindArray {
			return errors.NewSchemaError(errors.CodeTypeMismatch,
				fmt.Sprintf("similarity requires an array column, %q is %s", n.Column.Name, ct))
		}
		if ct.Dim > 0 && len(n.Query) != ct.Dim {
			return errors.NewSchemaError(errors.CodeTypeMismatch,
				fmt.Sprintf("similarity query has dim %d, column %q has dim %d", len(n.Query), n.Column.Name, ct.Dim))
		}
		return nil
	}
	return errors.NewInternalError(fmt.Sprintf("unknown expression node %T", e), nil)
}

func checkBinary(n *BinaryExpr) error {
	lt, rt := n.Left.Type(), n.Right.Type()
	switch n.Op {
	case OpAnd, OpOr:
		if lt.Kind != types.KindBool || rt.Kind != types.KindBool {
			return errors.NewSchemaError(errors.CodeTypeMismatch,
				fmt.Sprintf("%s requires bool operands, got %s and %s", n.Op, lt, rt))
		}
		n.typ = types.Bool
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if !comparable(lt, rt) {
			return errors.NewSchemaError(errors.CodeTypeMismatch,
				fmt.Sprintf("cannot compare %s with %s", lt, rt))
		}
		n.typ = types.Bool
	case OpAdd, OpSub, OpMul, OpDiv:
		if !lt.IsNumeric() || !rt.IsNumeric() {
			return errors.NewSchemaError(errors.CodeTypeMismatch,
				fmt.Sprintf("%s requires numeric operands, got %s and %s", n.Op, lt, rt))
		}
		if lt.Kind == types.KindFloat || rt.Kind == types.KindFloat || n.Op == OpDiv {
			n.typ = types.Float
		} else {
			n.typ = types.Int
		}
	default:
		return errors.NewSchemaError(errors.CodeTypeMismatch,
			fmt.Sprintf("unknown operator %s", n.Op))
	}
	return nil
}

func comparable(a, b types.ColumnType) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	return a.Kind == b.Kind
}

// Dependencies returns the ids of all column references transitively
// reachable from e, sorted. Valid only after Check.
func Dependencies(e Expr) []int {
	set := make(map[int]struct{})
	collectDeps(e, set)
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func collectDeps(e Expr, set map[int]struct{}) {
	switch n := e.(type) {
	case *ColumnRef:
		set[n.ID] = struct{}{}
	case *BinaryExpr:
		collectDeps(n.Left, set)
		collectDeps(n.Right, set)
	case *Call:
		for _, a := range n.Args {
			collectDeps(a, set)
		}
	case *Similarity:
		set[n.Column.ID] = struct{}{}
	}
}

// BatchableCall reports whether e is a single call to a batchable function,
// the only shape the evaluation engine groups into batches.
func BatchableCall(e Expr) (*udf.Function, bool) {
	c, ok := e.(*Call)
	if !ok || c.Fn == nil || !c.Fn.Batchable {
		return nil, false
	}
	return c.Fn, true
}
