package expr

import (
	"strings"
	"time"
)

// SQLColumn maps a resolved column id to its physical SQL column name in the
// backing row store; ok is false when the column cannot be pushed down
// (non-scalar encoding, or a cell-state check is required).
type SQLColumn func(colID int) (name string, ok bool)

// Pushdown is the result of splitting a predicate: a SQL WHERE fragment with
// args covering the pushable conjuncts, and a residual expression to be
// re-evaluated locally per row. Either part may be empty. The conjunction of
// both parts is equivalent to the original predicate, so pushdown narrows
// the scan but never decides correctness on its own.
type Pushdown struct {
	WhereSQL string
	Args     []interface{}
	Residual Expr
}

// Split partitions a boolean predicate into pushable and residual conjuncts.
// Pushable shapes: comparisons between a scalar column and a literal, and
// AND/OR compositions of pushable parts. Calls, similarity, and arithmetic
// always stay local.
func Split(pred Expr, cols SQLColumn) Pushdown {
	if pred == nil {
		return Pushdown{}
	}

	conjuncts := flattenAnd(pred)
	var pushed []string
	var args []interface{}
	var residual []Expr

	for _, c := range conjuncts {
		if sql, a, ok := toSQL(c, cols); ok {
			pushed = append(pushed, sql)
			args = append(args, a...)
		} else {
			residual = append(residual, c)
		}
	}

	return Pushdown{
		WhereSQL: strings.Join(pushed, " AND "),
		Args:     args,
		Residual: joinAnd(residual),
	}
}

// flattenAnd breaks a predicate into its top-level AND conjuncts.
func flattenAnd(e Expr) []Expr {
	if b, ok := e.(*BinaryExpr); ok && b.Op == OpAnd {
		return append(flattenAnd(b.Left), flattenAnd(b.Right)...)
	}
	return []Expr{e}
}

func joinAnd(conjuncts []Expr) Expr {
	if len(conjuncts) == 0 {
		return nil
	}
	out := conjuncts[0]
	for _, c := range conjuncts[1:] {
		out = &BinaryExpr{Op: OpAnd, Left: out, Right: c, typ: out.Type()}
	}
	return out
}

// toSQL renders a fully pushable expression as a SQL fragment.
func toSQL(e Expr, cols SQLColumn) (string, []interface{}, bool) {
	b, ok := e.(*BinaryExpr)
	if !ok {
		return "", nil, false
	}

	switch b.Op {
	case OpAnd, OpOr:
		// OR is pushable only when both branches are.
		ls, la, ok := toSQL(b.Left, cols)
		if !ok {
			return "", nil, false
		}
		rs, ra, ok := toSQL(b.Right, cols)
		if !ok {
			return "", nil, false
		}
		return "(" + ls + " " + string(b.Op) + " " + rs + ")", append(la, ra...), true

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		col, lit, flipped, ok := columnLiteral(b)
		if !ok {
			return "", nil, false
		}
		name, pushable := cols(col.ID)
		if !pushable {
			return "", nil, false
		}
		arg, ok := sqlArg(lit.Value)
		if !ok {
			return "", nil, false
		}
		op := b.Op
		if flipped {
			op = flipOp(op)
		}
		sqlOp := string(op)
		if op == OpNe {
			sqlOp = "<>"
		}
		return name + " " + sqlOp + " ?", []interface{}{arg}, true
	}
	return "", nil, false
}

// columnLiteral matches `col <op> lit` or `lit <op> col`.
func columnLiteral(b *BinaryExpr) (*ColumnRef, *Literal, bool, bool) {
	if col, ok := b.Left.(*ColumnRef); ok {
		if lit, ok := b.Right.(*Literal); ok {
			return col, lit, false, true
		}
	}
	if col, ok := b.Right.(*ColumnRef); ok {
		if lit, ok := b.Left.(*Literal); ok {
			return col, lit, true, true
		}
	}
	return nil, nil, false, false
}

func flipOp(op BinaryOp) BinaryOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}

// sqlArg converts a literal value to a driver-compatible argument.
func sqlArg(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64, float64, string:
		return x, true
	case float32:
		return float64(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	}
	return nil, false
}
