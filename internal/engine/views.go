package engine

import (
	"context"
	"fmt"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/eval"
	"github.com/tesseradata/tessera/internal/rowstore"
	"github.com/tesseradata/tessera/internal/types"
)

// CreateView creates a view over a parent table: the iterator expands each
// parent row into output rows (positions 0..n-1), and computed columns are
// evaluated over the expansion. Existing parent rows materialize before
// CreateView returns.
func (s *Store) CreateView(ctx context.Context, name, parent, iterator string, inputs []string, args map[string]interface{}, computed []catalog.ColumnSpec) (*catalog.Snapshot, error) {
	it, err := s.iters.Lookup(iterator)
	if err != nil {
		return nil, err
	}
	outputs, err := it.OutputColumns(args)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("view %q names no iterator input columns", name))
	}

	parentSnap, err := s.cat.Snapshot(parent)
	if err != nil {
		return nil, err
	}

	outputSpecs := make([]catalog.ColumnSpec, len(outputs))
	for i, oc := range outputs {
		outputSpecs[i] = catalog.ColumnSpec{Name: oc.Name, Type: oc.Type, Nullable: true}
	}
	spec := catalog.IteratorSpec{Name: iterator, Inputs: inputs, Args: args}

	snap, err := s.cat.CreateView(ctx, name, parent, spec, outputSpecs, computed)
	if err != nil {
		return nil, err
	}
	if err := s.rows.CreateTable(ctx, snap); err != nil {
		s.rollbackCatalogTable(ctx, name)
		return nil, err
	}

	// Backfill from the existing parent rows.
	parentRows, err := s.rows.Scan(ctx, parentSnap, rowstore.ScanOptions{})
	if err != nil {
		return nil, err
	}
	stats := eval.NewStats()
	if _, err := s.materializeRows(ctx, parentSnap, snap, parentRows, stats); err != nil {
		return nil, err
	}
	return snap, nil
}

// materializeIntoViews expands freshly written parent rows into every view
// of the table, recursively. Iterator failures and computed-cell failures
// surface as cell errors, never as operation errors.
func (s *Store) materializeIntoViews(ctx context.Context, parentSnap *catalog.Snapshot, parentRows []*types.Row, stats *eval.Stats) ([]*types.CellError, error) {
	var all []*types.CellError
	for _, child := range s.cat.ChildViews(parentSnap.TableID) {
		cellErrors, err := s.materializeRows(ctx, parentSnap, child, parentRows, stats)
		if err != nil {
			return nil, err
		}
		all = append(all, cellErrors...)
	}
	return all, nil
}

// rematerializeViews re-derives the view rows of updated parent rows:
// delete the old expansion, expand again. Positions restart at 0.
func (s *Store) rematerializeViews(ctx context.Context, parentSnap *catalog.Snapshot, parentRows []*types.Row, stats *eval.Stats) error {
	ids := make([]types.RowID, len(parentRows))
	for i, row := range parentRows {
		ids[i] = row.ID
	}
	for _, child := range s.cat.ChildViews(parentSnap.TableID) {
		childIDs, err := s.rows.ChildRowIDs(ctx, child, ids)
		if err != nil {
			return err
		}
		if len(childIDs) > 0 {
			if err := s.deleteCascade(ctx, child, childIDs); err != nil {
				return err
			}
			if _, err := s.rows.DeleteRows(ctx, child, childIDs); err != nil {
				return err
			}
			s.indexes.RemoveRows(child.TableID, childIDs)
		}
		if _, err := s.materializeRows(ctx, parentSnap, child, parentRows, stats); err != nil {
			return err
		}
	}
	return nil
}

// viewFlushRows bounds how many expanded child rows sit in memory before a
// write: a parent with a very large expansion streams through in chunks.
const viewFlushRows = 256

// materializeRows expands parent rows into one view, consuming each parent's
// cursor incrementally and flushing child rows in bounded chunks. A cursor
// failure mid-stream surfaces as a cell error on the parent; rows yielded
// before the failure stay materialized.
func (s *Store) materializeRows(ctx context.Context, parentSnap, viewSnap *catalog.Snapshot, parentRows []*types.Row, stats *eval.Stats) ([]*types.CellError, error) {
	if len(parentRows) == 0 {
		return nil, nil
	}
	it, err := s.iters.Lookup(viewSnap.Iterator.Name)
	if err != nil {
		return nil, err
	}

	inputIDs := make([]int, len(viewSnap.Iterator.Inputs))
	for i, name := range viewSnap.Iterator.Inputs {
		col, ok := parentSnap.Column(name)
		if !ok {
			return nil, errors.NewSchemaError(errors.CodeDanglingReference,
				fmt.Sprintf("iterator input column %q does not exist on %q", name, parentSnap.Name))
		}
		inputIDs[i] = col.ID
	}

	var cellErrors []*types.CellError
	chunk := make([]*types.Row, 0, viewFlushRows)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		errs, err := s.writeViewRows(ctx, viewSnap, chunk, stats)
		if err != nil {
			return err
		}
		cellErrors = append(cellErrors, errs...)
		chunk = make([]*types.Row, 0, viewFlushRows)
		return nil
	}
	iterError := func(parentRow *types.Row, err error) {
		cellErrors = append(cellErrors, &types.CellError{
			RowID:        parentRow.ID,
			Column:       viewSnap.Name,
			Kind:         errors.CodeUDFFailed,
			Message:      fmt.Sprintf("iterator %s failed: %v", viewSnap.Iterator.Name, err),
			OriginColumn: viewSnap.Name,
		})
	}

	for _, parentRow := range parentRows {
		inputs := make([]types.Value, len(inputIDs))
		skip := false
		for i, colID := range inputIDs {
			cell := parentRow.Cell(colID)
			if cell.State != types.CellPresent {
				// An errored or pending input yields no view rows for this
				// parent; the gap shows up on the parent cell itself.
				skip = true
				break
			}
			inputs[i] = cell.Value
		}
		if skip {
			continue
		}

		cur, err := it.Open(ctx, inputs, viewSnap.Iterator.Args)
		if err != nil {
			iterError(parentRow, err)
			continue
		}
		pos := int64(0)
		for {
			out, ok, err := cur.Next(ctx)
			if err != nil {
				iterError(parentRow, err)
				break
			}
			if !ok {
				break
			}
			row := types.NewRow(0, viewSnap.Version)
			row.ParentID = parentRow.ID
			row.Pos = pos
			pos++
			for name, v := range out {
				col, ok := viewSnap.Column(name)
				if !ok {
					cur.Close()
					return nil, errors.NewInternalError(
						fmt.Sprintf("iterator %s produced unknown column %q", viewSnap.Iterator.Name, name), nil)
				}
				row.Cells[col.ID] = types.PresentCell(v)
			}
			chunk = append(chunk, row)
			if len(chunk) >= viewFlushRows {
				if err := flush(); err != nil {
					cur.Close()
					return nil, err
				}
			}
		}
		cur.Close()
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return cellErrors, nil
}

// writeViewRows inserts one bounded batch of view rows, evaluates the view's
// computed columns over it, and recurses into views of the view.
func (s *Store) writeViewRows(ctx context.Context, viewSnap *catalog.Snapshot, rows []*types.Row, stats *eval.Stats) ([]*types.CellError, error) {
	if err := s.rows.Insert(ctx, viewSnap, rows); err != nil {
		return nil, err
	}
	cellErrors, err := s.eval.EvaluateColumns(ctx, viewSnap, rows, viewSnap.ComputedColumns(), stats)
	if err != nil {
		return nil, err
	}
	if err := s.persistCells(ctx, viewSnap, rows, viewSnap.ComputedColumns()); err != nil {
		return nil, err
	}
	subErrors, err := s.materializeIntoViews(ctx, viewSnap, rows, stats)
	if err != nil {
		return nil, err
	}
	return append(cellErrors, subErrors...), nil
}
