package engine

import (
	"context"
	"sort"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/rowstore"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/vindex"
)

// QueryOptions shapes a read. Where filters rows; OrderBy ranks them by
// similarity against an embedding column; Version pins the read to a past
// schema version.
type QueryOptions struct {
	Where   expr.Expr
	OrderBy *expr.Similarity
	Limit   int
	Version int
}

// Query reads rows from a table or view. Predicates over scalar stored
// values push down into the row store scan; the rest evaluates here. Rows
// whose cells needed by the predicate are errored or pending do not match.
func (s *Store) Query(ctx context.Context, table string, opts QueryOptions) ([]*types.Row, error) {
	var snap *catalog.Snapshot
	var err error
	if opts.Version > 0 {
		snap, err = s.cat.SnapshotAt(ctx, table, opts.Version)
	} else {
		snap, err = s.cat.Snapshot(table)
	}
	if err != nil {
		return nil, err
	}

	scan := rowstore.ScanOptions{MaxVersion: opts.Version}
	var residual expr.Expr
	if opts.Where != nil {
		if err := expr.Check(opts.Where, snap, s.fns); err != nil {
			return nil, err
		}
		if !opts.Where.Type().Equal(types.Bool) {
			return nil, errors.NewSchemaError(errors.CodeTypeMismatch, "predicate must be boolean")
		}
		pd := expr.Split(opts.Where, pushdownColumns(snap))
		scan.WhereSQL = pd.WhereSQL
		scan.Args = pd.Args
		residual = pd.Residual
	}
	if opts.OrderBy != nil {
		if err := expr.Check(opts.OrderBy, snap, s.fns); err != nil {
			return nil, err
		}
	}

	// The scan limit only applies when no work remains on this side.
	if residual == nil && opts.OrderBy == nil {
		scan.Limit = opts.Limit
	}

	rows, err := s.rows.Scan(ctx, snap, scan)
	if err != nil {
		return nil, err
	}

	if residual != nil {
		filtered := rows[:0]
		for _, row := range rows {
			ok, err := s.rowMatches(ctx, snap, residual, row)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if opts.OrderBy != nil {
		rows, err = s.orderBySimilarity(snap, opts.OrderBy, rows)
		if err != nil {
			return nil, err
		}
	}

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}

// pushdownColumns maps predicate columns to physical scan columns. Only
// natively stored scalars push down; structured and media columns stay on
// the residual side.
func pushdownColumns(snap *catalog.Snapshot) expr.SQLColumn {
	return func(colID int) (string, bool) {
		col, ok := snap.ColumnByID(colID)
		if !ok || !col.Type.IsScalar() {
			return "", false
		}
		return rowstore.ValueColumn(colID), true
	}
}

// rowMatches evaluates the residual predicate against one row. A predicate
// touching an errored or pending cell excludes the row rather than failing
// the query.
func (s *Store) rowMatches(ctx context.Context, snap *catalog.Snapshot, pred expr.Expr, row *types.Row) (bool, error) {
	v, err := expr.Eval(ctx, pred, queryRowReader{row}, s.similarityScorer(snap, row))
	if err != nil {
		switch err.(type) {
		case *expr.ErrDependencyErrored, *expr.ErrDependencyPending:
			return false, nil
		}
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewSchemaError(errors.CodeTypeMismatch, "predicate must be boolean")
	}
	return b, nil
}

type queryRowReader struct{ row *types.Row }

func (r queryRowReader) ReadCell(colID int) types.Cell { return r.row.Cell(colID) }

// similarityScorer scores similarity() nodes against one row's embedding
// cell, using the metric of the column's index when one is bound and cosine
// otherwise.
func (s *Store) similarityScorer(snap *catalog.Snapshot, row *types.Row) func(colID int, query []float32) (float64, error) {
	return func(colID int, query []float32) (float64, error) {
		cell := row.Cell(colID)
		if cell.State != types.CellPresent {
			return 0, &expr.ErrDependencyPending{Column: columnName(snap, colID)}
		}
		vec, ok := types.AsVector(cell.Value)
		if !ok {
			return 0, errors.NewIndexError(errors.CodeDimensionMismatch,
				"similarity target cell is not a vector", nil)
		}
		metric := vindex.MetricCosine
		if b, ok := s.indexes.ForColumn(snap.TableID, colID); ok {
			metric = b.Index.MetricName()
		}
		return vindex.Score(metric, vec, query)
	}
}

// orderBySimilarity ranks rows by similarity of their embedding cells to the
// query vector, highest first. Rows without a present embedding drop out.
func (s *Store) orderBySimilarity(snap *catalog.Snapshot, sim *expr.Similarity, rows []*types.Row) ([]*types.Row, error) {
	metric := vindex.MetricCosine
	if b, ok := s.indexes.ForColumn(snap.TableID, sim.Column.ID); ok {
		metric = b.Index.MetricName()
	}

	type scored struct {
		row   *types.Row
		score float64
	}
	ranked := make([]scored, 0, len(rows))
	for _, row := range rows {
		cell := row.Cell(sim.Column.ID)
		if cell.State != types.CellPresent {
			continue
		}
		vec, ok := types.AsVector(cell.Value)
		if !ok {
			return nil, errors.NewIndexError(errors.CodeDimensionMismatch,
				"similarity target cell is not a vector", nil)
		}
		score, err := vindex.Score(metric, vec, sim.Query)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{row: row, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].row.ID < ranked[j].row.ID
	})
	out := make([]*types.Row, len(ranked))
	for i, sc := range ranked {
		out[i] = sc.row
	}
	return out, nil
}

func columnName(snap *catalog.Snapshot, colID int) string {
	if col, ok := snap.ColumnByID(colID); ok {
		return col.Name
	}
	return "?"
}
