// Package expr provides typed expression trees shared by computed-column
// definitions and query predicates, together with the compiler that
// type-checks them, extracts column dependencies, and splits predicates into
// a pushdown prefix and a locally evaluated residual.
package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
)

// Expr is a node in an expression tree.
type Expr interface {
	exprNode()

	// Type returns the result type. Valid only after Check.
	Type() types.ColumnType

	String() string
}

// ColumnRef references a column by name; Check resolves the id and type.
type ColumnRef struct {
	Name string

	// ID is the resolved column id; -1 before Check.
	ID int

	typ types.ColumnType
}

// Col builds an unresolved column reference.
func Col(name string) *ColumnRef {
	return &ColumnRef{Name: name, ID: -1}
}

func (c *ColumnRef) exprNode()              {}
func (c *ColumnRef) Type() types.ColumnType { return c.typ }
func (c *ColumnRef) String() string         { return c.Name }

// Literal is a constant value with a declared type.
type Literal struct {
	Value types.Value
	typ   types.ColumnType
}

// Lit builds a literal, inferring its type from the Go value.
func Lit(v types.Value) *Literal {
	return &Literal{Value: v, typ: inferLiteralType(v)}
}

func (l *Literal) exprNode()              {}
func (l *Literal) Type() types.ColumnType { return l.typ }
func (l *Literal) String() string {
	if s, ok := l.Value.(string); ok {
		return fmt.Sprintf("'%s'", s)
	}
	return fmt.Sprintf("%v", l.Value)
}

// BinaryOp enumerates the built-in binary operators.
type BinaryOp string

const (
	OpEq  BinaryOp = "="
	OpNe  BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "AND"
	OpOr  BinaryOp = "OR"
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
)

// BinaryExpr applies a built-in operator to two operands.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	typ   types.ColumnType
}

// Binary builds a binary expression.
func Binary(op BinaryOp, left, right Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

func (b *BinaryExpr) exprNode()              {}
func (b *BinaryExpr) Type() types.ColumnType { return b.typ }
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op, b.Right.String())
}

// Call invokes a registered function. FnName is resolved against the UDF
// registry during Check.
type Call struct {
	FnName string
	Args   []Expr

	// Fn is the resolved function; nil before Check.
	Fn *udf.Function
}

// CallFn builds a function call expression.
func CallFn(name string, args ...Expr) *Call {
	return &Call{FnName: name, Args: args}
}

func (c *Call) exprNode() {}
func (c *Call) Type() types.ColumnType {
	if c.Fn == nil {
		return types.ColumnType{}
	}
	return c.Fn.Result
}
func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.FnName, strings.Join(parts, ", "))
}

// Similarity scores a vector column against a query vector. It is exposed by
// the embedding index manager and always evaluates locally (never pushed
// down); the index accelerates top-k ordering over it.
type Similarity struct {
	Column *ColumnRef
	Query  []float32
}

// Sim builds a similarity expression over the named embedding column.
func Sim(column string, query []float32) *Similarity {
	return &Similarity{Column: Col(column), Query: query}
}

func (s *Similarity) exprNode()              {}
func (s *Similarity) Type() types.ColumnType { return types.Float }
func (s *Similarity) String() string {
	return fmt.Sprintf("similarity(%s, <%d-dim>)", s.Column.Name, len(s.Query))
}

func inferLiteralType(v types.Value) types.ColumnType {
	switch v.(type) {
	case bool:
		return types.Bool
	case int, int32, int64:
		return types.Int
	case float32, float64:
		return types.Float
	case string:
		return types.String
	case time.Time:
		return types.Timestamp
	case []float32, []float64:
		return types.Array(0)
	}
	return types.Json
}
