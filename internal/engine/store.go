// Package engine ties the catalog, row store, evaluation engine, view
// materializer, vector indexes, and media storage into the public Store
// API. All orchestration invariants live here: inserts evaluate before they
// return, schema changes backfill, and index contents track cell state.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/config"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/eval"
	"github.com/tesseradata/tessera/internal/media"
	"github.com/tesseradata/tessera/internal/rowstore"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
	"github.com/tesseradata/tessera/internal/view"
	"github.com/tesseradata/tessera/internal/vindex"
)

// Store is one engine instance over one data directory.
type Store struct {
	cfg     *config.Config
	cat     *catalog.Catalog
	rows    *rowstore.Store
	eval    *eval.Engine
	fns     *udf.Registry
	iters   *view.Registry
	indexes *vindex.Manager
	objects media.ObjectStore
}

// Open opens (or creates) a store. Registered functions must include every
// function referenced by persisted computed columns, or opening fails.
func Open(ctx context.Context, cfg *config.Config, fns *udf.Registry, iters *view.Registry) (*Store, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: failed to create data dir: %w", err)
	}

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.NewCatalog(cfg.CatalogPath(), fns)
	if err != nil {
		return nil, err
	}
	rows, err := rowstore.NewStore(cfg.RowsPath())
	if err != nil {
		cat.Close()
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		cat:     cat,
		rows:    rows,
		eval:    eval.New(cfg.Eval),
		fns:     fns,
		iters:   iters,
		indexes: vindex.NewManager(),
		objects: objects,
	}

	if err := s.reloadIndexes(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openObjectStore(ctx context.Context, cfg *config.Config) (media.ObjectStore, error) {
	switch cfg.Media.Type {
	case "s3":
		return media.NewS3Store(ctx, cfg.Media.S3.Bucket, media.S3Config{
			Region:       cfg.Media.S3.Region,
			Endpoint:     cfg.Media.S3.Endpoint,
			UsePathStyle: cfg.Media.S3.UsePathStyle,
		})
	default:
		return media.NewLocalStore(cfg.Media.Path)
	}
}

// Close closes the underlying stores.
func (s *Store) Close() error {
	rerr := s.rows.Close()
	cerr := s.cat.Close()
	if rerr != nil {
		return rerr
	}
	return cerr
}

// Catalog exposes read access to schema snapshots.
func (s *Store) Catalog() *catalog.Catalog { return s.cat }

// Functions exposes the function registry.
func (s *Store) Functions() *udf.Registry { return s.fns }

// PutMedia uploads media content and returns its reference for insertion
// into media columns.
func (s *Store) PutMedia(ctx context.Context, key string, content io.Reader) (media.Ref, error) {
	return s.objects.Put(ctx, key, content)
}

// OpenMedia fetches media content by reference.
func (s *Store) OpenMedia(ctx context.Context, ref media.Ref) (io.ReadCloser, error) {
	return s.objects.Get(ctx, ref.URI)
}

// CreateTable creates a base table with the given columns. The catalog entry
// rolls back if the physical table cannot be created.
func (s *Store) CreateTable(ctx context.Context, name string, specs []catalog.ColumnSpec) (*catalog.Snapshot, error) {
	snap, err := s.cat.CreateTable(ctx, name, specs)
	if err != nil {
		return nil, err
	}
	if err := s.rows.CreateTable(ctx, snap); err != nil {
		s.rollbackCatalogTable(ctx, name)
		return nil, err
	}
	return snap, nil
}

// rollbackCatalogTable undoes a catalog registration whose physical table
// never materialized.
func (s *Store) rollbackCatalogTable(ctx context.Context, name string) {
	if _, err := s.cat.DropTable(ctx, name, false); err != nil {
		log.Printf("[WARN] engine: failed to roll back catalog entry for %q: %v", name, err)
	}
}

// AddColumn adds a column to a table. A computed column backfills over all
// existing rows before AddColumn returns; per-cell failures are recorded on
// the cells, not returned as an operation error.
func (s *Store) AddColumn(ctx context.Context, table string, spec catalog.ColumnSpec) (*eval.Stats, error) {
	snap, col, err := s.cat.AddColumn(ctx, table, spec)
	if err != nil {
		return nil, err
	}
	if err := s.rows.AddColumn(ctx, snap, col); err != nil {
		return nil, err
	}
	if !col.Computed {
		return eval.NewStats(), nil
	}
	return s.backfillColumn(ctx, snap, col)
}

// backfillColumn evaluates one computed column over every existing row.
func (s *Store) backfillColumn(ctx context.Context, snap *catalog.Snapshot, col *catalog.Column) (*eval.Stats, error) {
	rows, err := s.rows.Scan(ctx, snap, rowstore.ScanOptions{})
	if err != nil {
		return nil, err
	}
	stats := eval.NewStats()
	if _, err := s.eval.EvaluateColumns(ctx, snap, rows, []*catalog.Column{col}, stats); err != nil {
		return stats, err
	}
	if err := s.persistCells(ctx, snap, rows, []*catalog.Column{col}); err != nil {
		return stats, err
	}
	stats.Finish()
	return stats, nil
}

// DropColumn drops a column; cascade drops its dependent columns and
// indexes. Cell history stays in the row store for versioned reads.
func (s *Store) DropColumn(ctx context.Context, table, column string, cascade bool) error {
	res, err := s.cat.DropColumn(ctx, table, column, cascade)
	if err != nil {
		return err
	}
	for _, idx := range res.DroppedIndexes {
		s.indexes.Drop(idx.Name)
	}
	return nil
}

// DropTable drops a table or view; cascade drops dependent views first.
func (s *Store) DropTable(ctx context.Context, name string, cascade bool) error {
	dropped, err := s.cat.DropTable(ctx, name, cascade)
	if err != nil {
		return err
	}
	for _, snap := range dropped {
		for _, b := range s.indexes.ForTable(snap.TableID) {
			s.indexes.Drop(b.Rec.Name)
		}
		if err := s.rows.DropTable(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// persistCells writes the cells of the given columns back to the row store
// and mirrors the transitions into any bound vector indexes.
func (s *Store) persistCells(ctx context.Context, snap *catalog.Snapshot, rows []*types.Row, cols []*catalog.Column) error {
	var updates []rowstore.CellUpdate
	for _, row := range rows {
		for _, col := range cols {
			cell := row.Cell(col.ID)
			if cell.State == types.CellPending {
				continue
			}
			updates = append(updates, rowstore.CellUpdate{RowID: row.ID, ColumnID: col.ID, Cell: cell})
		}
	}
	if err := s.rows.ApplyCellUpdates(ctx, snap, updates); err != nil {
		return err
	}
	for _, u := range updates {
		if err := s.indexes.SyncCell(snap.TableID, u.RowID, u.ColumnID, u.Cell); err != nil {
			log.Printf("[WARN] engine: failed to sync index for row %d column %d: %v", u.RowID, u.ColumnID, err)
		}
	}
	return nil
}

// RecoverPending resumes evaluation of cells left pending by an interrupted
// run, table by table. Intended to run once after Open.
func (s *Store) RecoverPending(ctx context.Context) (*eval.Stats, error) {
	stats := eval.NewStats()
	for _, name := range s.cat.ListTables() {
		snap, err := s.cat.Snapshot(name)
		if err != nil {
			return stats, err
		}
		computed := snap.ComputedColumns()
		if len(computed) == 0 {
			continue
		}

		seen := make(map[types.RowID]*types.Row)
		var pendingRows []*types.Row
		for _, col := range computed {
			rows, err := s.rows.RowsWithState(ctx, snap, col.ID, types.CellPending)
			if err != nil {
				return stats, err
			}
			for _, row := range rows {
				if _, ok := seen[row.ID]; !ok {
					seen[row.ID] = row
					pendingRows = append(pendingRows, row)
				}
			}
		}
		if len(pendingRows) == 0 {
			continue
		}

		log.Printf("engine: resuming %d rows with pending cells in %s", len(pendingRows), name)
		if _, err := s.eval.EvaluateColumns(ctx, snap, pendingRows, computed, stats); err != nil {
			return stats, err
		}
		if err := s.persistCells(ctx, snap, pendingRows, computed); err != nil {
			return stats, err
		}
	}
	stats.Finish()
	return stats, nil
}

// validateStoredValues checks an insert/update payload against the snapshot:
// unknown columns, computed targets, non-nullable misses, and value types.
func validateStoredValues(snap *catalog.Snapshot, values map[string]types.Value, requireAll bool) (map[int]types.Value, error) {
	byID := make(map[int]types.Value, len(values))
	for name, v := range values {
		col, ok := snap.Column(name)
		if !ok {
			return nil, errors.NewValidationError(errors.CodeMalformedRow,
				fmt.Sprintf("column %q does not exist on %q", name, snap.Name))
		}
		if col.Computed {
			return nil, errors.NewValidationError(errors.CodeComputedTarget,
				fmt.Sprintf("column %q is computed and cannot be written", name))
		}
		if v == nil {
			if !col.Nullable {
				return nil, errors.NewValidationError(errors.CodeMalformedRow,
					fmt.Sprintf("column %q is not nullable", name))
			}
			byID[col.ID] = nil
			continue
		}
		if err := types.ValidateValue(col.Type, v); err != nil {
			return nil, errors.NewValidationError(errors.CodeTypeMismatch,
				fmt.Sprintf("column %q: %v", name, err))
		}
		byID[col.ID] = v
	}
	if requireAll {
		for _, col := range snap.StoredColumns() {
			if _, ok := byID[col.ID]; !ok && !col.Nullable {
				return nil, errors.NewValidationError(errors.CodeMalformedRow,
					fmt.Sprintf("missing value for non-nullable column %q", col.Name))
			}
		}
	}
	return byID, nil
}
