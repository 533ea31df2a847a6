package engine

import (
	"context"
	"fmt"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/eval"
	"github.com/tesseradata/tessera/internal/types"
)

// RowError reports a row rejected by validation, identified by its position
// in the insert batch.
type RowError struct {
	Index int
	Err   error
}

// InsertResult reports the outcome of an insert. Inserts succeed even when
// computed cells fail; the failures ride along as cell errors, and rows
// rejected by validation ride along as row errors.
type InsertResult struct {
	Inserted   int
	RowIDs     []types.RowID
	Rejected   []RowError
	CellErrors []*types.CellError
	Stats      *eval.Stats
}

// Insert validates and persists rows, evaluates their computed columns, and
// materializes dependent views. Each element of values maps stored column
// names to values. A malformed row is skipped and reported in Rejected; its
// siblings still insert.
func (s *Store) Insert(ctx context.Context, table string, values []map[string]types.Value) (*InsertResult, error) {
	if len(values) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyBatch, "insert batch is empty")
	}
	snap, err := s.cat.Snapshot(table)
	if err != nil {
		return nil, err
	}
	if snap.IsView {
		return nil, errors.NewValidationError(errors.CodeComputedTarget,
			fmt.Sprintf("%q is a view; insert into its parent instead", table))
	}

	rows := make([]*types.Row, 0, len(values))
	var rejected []RowError
	for i, rowValues := range values {
		byID, err := validateStoredValues(snap, rowValues, true)
		if err != nil {
			rejected = append(rejected, RowError{Index: i, Err: err})
			continue
		}
		row := types.NewRow(0, snap.Version)
		for colID, v := range byID {
			row.Cells[colID] = types.PresentCell(v)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return &InsertResult{Rejected: rejected, Stats: eval.NewStats()}, nil
	}

	if err := s.rows.Insert(ctx, snap, rows); err != nil {
		return nil, err
	}

	stats := eval.NewStats()
	cellErrors, err := s.eval.EvaluateColumns(ctx, snap, rows, snap.ComputedColumns(), stats)
	if err != nil {
		// Cancellation mid-evaluation: persist what finished, the rest
		// stays pending for RecoverPending.
		if perr := s.persistCells(ctx, snap, rows, snap.ComputedColumns()); perr != nil {
			return nil, perr
		}
		return nil, err
	}
	if err := s.persistCells(ctx, snap, rows, snap.ComputedColumns()); err != nil {
		return nil, err
	}

	viewErrors, err := s.materializeIntoViews(ctx, snap, rows, stats)
	if err != nil {
		return nil, err
	}
	cellErrors = append(cellErrors, viewErrors...)
	stats.Finish()

	ids := make([]types.RowID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return &InsertResult{
		Inserted:   len(rows),
		RowIDs:     ids,
		Rejected:   rejected,
		CellErrors: cellErrors,
		Stats:      stats,
	}, nil
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Recomputed []string // names of recomputed columns
	CellErrors []*types.CellError
}

// Update overwrites stored cells of one row and incrementally recomputes
// exactly the transitive dependents of the changed columns. Dependent view
// rows re-derive from scratch.
func (s *Store) Update(ctx context.Context, table string, rowID types.RowID, values map[string]types.Value) (*UpdateResult, error) {
	if len(values) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyBatch, "update carries no values")
	}
	snap, err := s.cat.Snapshot(table)
	if err != nil {
		return nil, err
	}
	if snap.IsView {
		return nil, errors.NewValidationError(errors.CodeComputedTarget,
			fmt.Sprintf("%q is a view; update its parent instead", table))
	}

	byID, err := validateStoredValues(snap, values, false)
	if err != nil {
		return nil, err
	}

	changed := make([]int, 0, len(byID))
	for colID := range byID {
		changed = append(changed, colID)
	}
	affected := snap.Graph.Affected(changed)

	if err := s.rows.UpdateStored(ctx, snap, rowID, byID, affected); err != nil {
		return nil, err
	}

	row, err := s.rows.GetRow(ctx, snap, rowID)
	if err != nil {
		return nil, err
	}

	affectedCols := make([]*catalog.Column, 0, len(affected))
	names := make([]string, 0, len(affected))
	for _, colID := range affected {
		if col, ok := snap.ColumnByID(colID); ok {
			affectedCols = append(affectedCols, col)
			names = append(names, col.Name)
		}
	}

	stats := eval.NewStats()
	rows := []*types.Row{row}
	cellErrors, err := s.eval.EvaluateColumns(ctx, snap, rows, affectedCols, stats)
	if err != nil {
		return nil, err
	}
	if err := s.persistCells(ctx, snap, rows, affectedCols); err != nil {
		return nil, err
	}

	// View rows derived from this row are re-derived wholesale: the old
	// expansion may have a different shape under the new inputs.
	if err := s.rematerializeViews(ctx, snap, rows, stats); err != nil {
		return nil, err
	}

	return &UpdateResult{Recomputed: names, CellErrors: cellErrors}, nil
}

// Delete removes rows by id, cascading through dependent views and removing
// the rows from every index. Returns the number of base rows deleted.
func (s *Store) Delete(ctx context.Context, table string, ids []types.RowID) (int64, error) {
	snap, err := s.cat.Snapshot(table)
	if err != nil {
		return 0, err
	}
	if err := s.deleteCascade(ctx, snap, ids); err != nil {
		return 0, err
	}
	n, err := s.rows.DeleteRows(ctx, snap, ids)
	if err != nil {
		return 0, err
	}
	s.indexes.RemoveRows(snap.TableID, ids)
	return n, nil
}

// deleteCascade removes the view rows derived from the given parent rows,
// depth first through views of views.
func (s *Store) deleteCascade(ctx context.Context, parent *catalog.Snapshot, parentIDs []types.RowID) error {
	for _, child := range s.cat.ChildViews(parent.TableID) {
		childIDs, err := s.rows.ChildRowIDs(ctx, child, parentIDs)
		if err != nil {
			return err
		}
		if len(childIDs) == 0 {
			continue
		}
		if err := s.deleteCascade(ctx, child, childIDs); err != nil {
			return err
		}
		if _, err := s.rows.DeleteRows(ctx, child, childIDs); err != nil {
			return err
		}
		s.indexes.RemoveRows(child.TableID, childIDs)
	}
	return nil
}
