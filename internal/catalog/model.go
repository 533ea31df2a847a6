package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/graph"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
)

// ColumnSpec describes a column at creation time. Exactly one of Type or
// Expr is set: stored columns declare a type, computed columns declare an
// expression whose result type is inferred by the compiler.
type ColumnSpec struct {
	Name     string
	Type     types.ColumnType
	Nullable bool
	Expr     expr.Expr
}

// Column is one column of a table snapshot.
type Column struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Type     types.ColumnType `json:"type"`
	Nullable bool             `json:"nullable"`
	Computed bool             `json:"computed"`

	// ExprJSON is the persisted expression for computed columns.
	ExprJSON json.RawMessage `json:"expr,omitempty"`

	// Evaluation metadata, derived from the expression's function calls.
	Deterministic bool              `json:"deterministic"`
	Batchable     bool              `json:"batchable"`
	Resource      udf.ResourceClass `json:"resource"`

	CreatedVersion int `json:"created_version"`

	// Expr is the compiled expression; populated in memory, not persisted.
	Expr expr.Expr `json:"-"`
}

// IteratorSpec names a registered iterator and its static arguments. The
// iterator's per-parent inputs are parent column names listed in Inputs.
type IteratorSpec struct {
	Name   string                 `json:"name"`
	Inputs []string               `json:"inputs,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// IndexRecord describes an embedding index binding.
type IndexRecord struct {
	ID       string `json:"id"`
	TableID  string `json:"table_id"`
	Name     string `json:"name"`
	ColumnID int    `json:"column_id"`
	EmbedFn  string `json:"embed_fn"`
	Metric   string `json:"metric"`
}

// Snapshot is an immutable view of one table at one schema version. Data
// operations resolve a snapshot once and run against it; later schema
// mutations produce new snapshots and never touch existing ones.
type Snapshot struct {
	TableID    string        `json:"table_id"`
	Name       string        `json:"name"`
	IsView     bool          `json:"is_view"`
	ParentID   string        `json:"parent_id,omitempty"`
	Iterator   *IteratorSpec `json:"iterator,omitempty"`
	StoreTable string        `json:"store_table"`
	Version    int           `json:"version"`
	Columns    []*Column     `json:"columns"`

	// Graph orders the computed columns; rebuilt per version, never mutated.
	Graph *graph.Graph `json:"-"`

	byName map[string]*Column
	byID   map[int]*Column
}

// index builds the lookup maps; called after loading or mutating columns.
func (s *Snapshot) index() {
	s.byName = make(map[string]*Column, len(s.Columns))
	s.byID = make(map[int]*Column, len(s.Columns))
	for _, c := range s.Columns {
		s.byName[c.Name] = c
		s.byID[c.ID] = c
	}
}

// Column returns the column with the given name.
func (s *Snapshot) Column(name string) (*Column, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// ColumnByID returns the column with the given id.
func (s *Snapshot) ColumnByID(id int) (*Column, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// ResolveColumn implements expr.Resolver.
func (s *Snapshot) ResolveColumn(name string) (expr.ColumnMeta, bool) {
	c, ok := s.byName[name]
	if !ok {
		return expr.ColumnMeta{}, false
	}
	return expr.ColumnMeta{ID: c.ID, Name: c.Name, Type: c.Type, Computed: c.Computed}, true
}

// ComputedColumns returns the computed columns in evaluation order.
func (s *Snapshot) ComputedColumns() []*Column {
	if s.Graph == nil {
		return nil
	}
	order := s.Graph.Order()
	out := make([]*Column, 0, len(order))
	for _, id := range order {
		if c, ok := s.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// StoredColumns returns the stored (directly written) columns.
func (s *Snapshot) StoredColumns() []*Column {
	var out []*Column
	for _, c := range s.Columns {
		if !c.Computed {
			out = append(out, c)
		}
	}
	return out
}

// clone produces a deep-enough copy for building the next schema version:
// column structs are copied, the expression pointers are shared (expressions
// are immutable once compiled).
func (s *Snapshot) clone() *Snapshot {
	cp := *s
	cp.Columns = make([]*Column, len(s.Columns))
	for i, c := range s.Columns {
		cc := *c
		cp.Columns[i] = &cc
	}
	cp.index()
	return &cp
}

// buildGraph recompiles the dependency graph from the computed columns'
// expressions. Expressions must already be compiled (column refs resolved).
func (s *Snapshot) buildGraph() error {
	deps := make(map[int][]int)
	for _, c := range s.Columns {
		if c.Computed {
			deps[c.ID] = expr.Dependencies(c.Expr)
		}
	}
	g, err := graph.Build(deps)
	if err != nil {
		return err
	}
	s.Graph = g
	return nil
}

// compileColumns resolves every computed column's expression against this
// snapshot and the function registry.
func (s *Snapshot) compileColumns(fns *udf.Registry) error {
	for _, c := range s.Columns {
		if !c.Computed {
			continue
		}
		if c.Expr == nil {
			e, err := expr.Unmarshal(c.ExprJSON)
			if err != nil {
				return fmt.Errorf("catalog: column %s.%s: %w", s.Name, c.Name, err)
			}
			c.Expr = e
		}
		if err := expr.Check(c.Expr, s, fns); err != nil {
			return err
		}
	}
	return nil
}
