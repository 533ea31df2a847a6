package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/eval"
	"github.com/tesseradata/tessera/internal/rowstore"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/vindex"
)

// CreateEmbeddingIndex adds a computed embedding column embedFn(column) to
// the table, binds a vector index to it, and backfills both over existing
// rows. Rows whose embedding fails are absent from the index; their failure
// sits on the embedding cell.
func (s *Store) CreateEmbeddingIndex(ctx context.Context, table, column, indexName, embedFn, metric string) (*eval.Stats, error) {
	snap, rec, col, err := s.cat.CreateEmbeddingIndex(ctx, table, column, indexName, embedFn, metric)
	if err != nil {
		return nil, err
	}
	if err := s.rows.AddColumn(ctx, snap, col); err != nil {
		return nil, err
	}
	if _, err := s.indexes.Register(rec, col.Type.Dim); err != nil {
		return nil, err
	}

	// Backfill populates the index through persistCells' index sync.
	return s.backfillColumn(ctx, snap, col)
}

// RebuildIndex swaps the index's embedding function, recomputes the
// embedding column over all rows, and replaces the index contents
// atomically. Readers see the old index until the swap.
func (s *Store) RebuildIndex(ctx context.Context, table, indexName, embedFn string) (*eval.Stats, error) {
	b, err := s.indexes.Get(indexName)
	if err != nil {
		return nil, err
	}

	snap, col, err := s.cat.UpdateIndexFunction(ctx, table, b.Rec, embedFn)
	if err != nil {
		return nil, err
	}

	rows, err := s.rows.Scan(ctx, snap, rowstore.ScanOptions{})
	if err != nil {
		return nil, err
	}

	// Reset in memory, recompute, persist, then swap the index in one step.
	for _, row := range rows {
		row.Cells[col.ID] = types.Cell{State: types.CellPending}
	}
	stats := eval.NewStats()
	if _, err := s.eval.EvaluateColumns(ctx, snap, rows, []*catalog.Column{col}, stats); err != nil {
		return stats, err
	}

	var updates []rowstore.CellUpdate
	for _, row := range rows {
		updates = append(updates, rowstore.CellUpdate{RowID: row.ID, ColumnID: col.ID, Cell: row.Cell(col.ID)})
	}
	if err := s.rows.ApplyCellUpdates(ctx, snap, updates); err != nil {
		return stats, err
	}
	if err := s.indexes.Rebuild(b, rows); err != nil {
		return stats, err
	}
	stats.Finish()
	return stats, nil
}

// Search runs a top-k similarity search against a named index.
func (s *Store) Search(ctx context.Context, indexName string, query []float32, k int) ([]vindex.SearchResult, error) {
	b, err := s.indexes.Get(indexName)
	if err != nil {
		return nil, err
	}
	return b.Index.Search(query, k)
}

// reloadIndexes restores every persisted index on open, filling contents
// from the present embedding cells.
func (s *Store) reloadIndexes(ctx context.Context) error {
	recs, err := s.cat.AllIndexes(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		snap, err := s.cat.SnapshotByID(rec.TableID)
		if err != nil {
			return err
		}
		col, ok := snap.ColumnByID(rec.ColumnID)
		if !ok {
			return errors.NewInternalError(
				fmt.Sprintf("index %q bound to missing column %d", rec.Name, rec.ColumnID), nil)
		}
		b, err := s.indexes.Register(rec, col.Type.Dim)
		if err != nil {
			return err
		}
		rows, err := s.rows.RowsWithState(ctx, snap, rec.ColumnID, types.CellPresent)
		if err != nil {
			return err
		}
		if err := s.indexes.Rebuild(b, rows); err != nil {
			return err
		}
		log.Printf("engine: restored index %s with %d vectors", rec.Name, b.Index.Len())
	}
	return nil
}
