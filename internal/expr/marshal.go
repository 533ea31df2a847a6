package expr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tesseradata/tessera/internal/types"
)

// The catalog persists computed-column expressions as JSON. Nodes are tagged
// by kind; column references are stored by name and re-resolved against the
// schema snapshot on load, so ids stay an in-memory concern.

type nodeJSON struct {
	Kind  string          `json:"kind"`
	Name  string          `json:"name,omitempty"`
	Op    string          `json:"op,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	VType *types.ColumnType `json:"vtype,omitempty"`
	Left  *nodeJSON       `json:"left,omitempty"`
	Right *nodeJSON       `json:"right,omitempty"`
	Args  []*nodeJSON     `json:"args,omitempty"`
	Query []float32       `json:"query,omitempty"`
}

// Marshal encodes an expression tree as JSON.
func Marshal(e Expr) ([]byte, error) {
	n, err := toNode(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// Unmarshal decodes an expression tree from JSON. The result is unresolved;
// callers must run Check before using it.
func Unmarshal(data []byte) (Expr, error) {
	var n nodeJSON
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("expr: failed to decode expression: %w", err)
	}
	return fromNode(&n)
}

func toNode(e Expr) (*nodeJSON, error) {
	switch n := e.(type) {
	case *ColumnRef:
		return &nodeJSON{Kind: "col", Name: n.Name}, nil
	case *Literal:
		raw, err := json.Marshal(n.Value)
		if err != nil {
			return nil, fmt.Errorf("expr: failed to encode literal: %w", err)
		}
		t := n.typ
		return &nodeJSON{Kind: "lit", Value: raw, VType: &t}, nil
	case *BinaryExpr:
		left, err := toNode(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := toNode(n.Right)
		if err != nil {
			return nil, err
		}
		return &nodeJSON{Kind: "bin", Op: string(n.Op), Left: left, Right: right}, nil
	case *Call:
		args := make([]*nodeJSON, len(n.Args))
		for i, a := range n.Args {
			an, err := toNode(a)
			if err != nil {
				return nil, err
			}
			args[i] = an
		}
		return &nodeJSON{Kind: "call", Name: n.FnName, Args: args}, nil
	case *Similarity:
		return &nodeJSON{Kind: "sim", Name: n.Column.Name, Query: n.Query}, nil
	}
	return nil, fmt.Errorf("expr: cannot encode node %T", e)
}

func fromNode(n *nodeJSON) (Expr, error) {
	switch n.Kind {
	case "col":
		return Col(n.Name), nil
	case "lit":
		return litFromNode(n)
	case "bin":
		left, err := fromNode(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := fromNode(n.Right)
		if err != nil {
			return nil, err
		}
		return Binary(BinaryOp(n.Op), left, right), nil
	case "call":
		args := make([]Expr, len(n.Args))
		for i, an := range n.Args {
			a, err := fromNode(an)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		return CallFn(n.Name, args...), nil
	case "sim":
		return Sim(n.Name, n.Query), nil
	}
	return nil, fmt.Errorf("expr: unknown node kind %q", n.Kind)
}

// litFromNode decodes a literal using its recorded type so int64 and
// timestamps survive the JSON round trip.
func litFromNode(n *nodeJSON) (Expr, error) {
	if n.VType == nil {
		var v interface{}
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode literal: %w", err)
		}
		return Lit(v), nil
	}
	switch n.VType.Kind {
	case types.KindBool:
		var v bool
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode bool literal: %w", err)
		}
		return &Literal{Value: v, typ: *n.VType}, nil
	case types.KindInt:
		var v int64
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode int literal: %w", err)
		}
		return &Literal{Value: v, typ: *n.VType}, nil
	case types.KindFloat:
		var v float64
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode float literal: %w", err)
		}
		return &Literal{Value: v, typ: *n.VType}, nil
	case types.KindString:
		var v string
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode string literal: %w", err)
		}
		return &Literal{Value: v, typ: *n.VType}, nil
	case types.KindTimestamp:
		var v time.Time
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode timestamp literal: %w", err)
		}
		return &Literal{Value: v, typ: *n.VType}, nil
	default:
		var v interface{}
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("expr: failed to decode literal: %w", err)
		}
		return &Literal{Value: v, typ: *n.VType}, nil
	}
}
