package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/udf"
)

// Catalog manages table, view, column, and index metadata in catalog.db.
// Schema mutations are serialized per table; data operations resolve an
// immutable Snapshot and are never blocked by later mutations.
type Catalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Serializes catalog writes

	fns *udf.Registry

	// tables holds the current snapshot per table name. Snapshots are
	// replaced wholesale on schema change, never mutated.
	tablesMu sync.RWMutex
	tables   map[string]*Snapshot

	// schemaLocks serializes schema mutations per table id.
	schemaLocksMu sync.Mutex
	schemaLocks   map[string]*sync.Mutex
}

// NewCatalog opens (or creates) a SQLite-backed catalog.
func NewCatalog(dbPath string, fns *udf.Registry) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &Catalog{
		db:          db,
		readDB:      readDB,
		dbPath:      dbPath,
		fns:         fns,
		tables:      make(map[string]*Snapshot),
		schemaLocks: make(map[string]*sync.Mutex),
	}

	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}
	if err := c.loadAll(context.Background()); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// loadAll restores snapshots for every active table. Parents load before
// children so view expressions can resolve.
func (c *Catalog) loadAll(ctx context.Context) error {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT table_id, name FROM tables WHERE dropped_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return errors.NewStorageError(errors.CodeStoreUnavailable, "failed to list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("catalog: failed to scan table: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: error iterating tables: %w", err)
	}

	for _, name := range names {
		snap, err := c.loadSnapshot(ctx, name)
		if err != nil {
			return err
		}
		c.tables[name] = snap
	}
	return nil
}

// loadSnapshot reads one table's current definition from the database and
// compiles it.
func (c *Catalog) loadSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	snap := &Snapshot{Name: name}
	var iteratorJSON, parentID sql.NullString
	var kind string
	err := c.readDB.QueryRowContext(ctx,
		`SELECT table_id, kind, parent_id, iterator_json, store_table, current_version
		 FROM tables WHERE name = ? AND dropped_at IS NULL`, name,
	).Scan(&snap.TableID, &kind, &parentID, &iteratorJSON, &snap.StoreTable, &snap.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewSchemaError(errors.CodeNotFound, fmt.Sprintf("table %q does not exist", name))
		}
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to load table", err)
	}
	snap.IsView = kind == "view"
	if parentID.Valid {
		snap.ParentID = parentID.String
	}
	if iteratorJSON.Valid && iteratorJSON.String != "" {
		var it IteratorSpec
		if err := json.Unmarshal([]byte(iteratorJSON.String), &it); err != nil {
			return nil, fmt.Errorf("catalog: failed to decode iterator spec for %s: %w", name, err)
		}
		snap.Iterator = &it
	}

	rows, err := c.readDB.QueryContext(ctx,
		`SELECT col_id, name, type_json, nullable, kind, expr_json,
		        deterministic, batchable, resource, created_version
		 FROM columns
		 WHERE table_id = ? AND dropped_version IS NULL
		 ORDER BY col_id ASC`, snap.TableID)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to load columns", err)
	}
	defer rows.Close()

	for rows.Next() {
		col := &Column{}
		var typeJSON, colKind string
		var exprJSON sql.NullString
		var nullable, deterministic, batchable int
		var resource string
		if err := rows.Scan(&col.ID, &col.Name, &typeJSON, &nullable, &colKind, &exprJSON,
			&deterministic, &batchable, &resource, &col.CreatedVersion); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan column: %w", err)
		}
		if err := json.Unmarshal([]byte(typeJSON), &col.Type); err != nil {
			return nil, fmt.Errorf("catalog: failed to decode column type: %w", err)
		}
		col.Nullable = nullable != 0
		col.Computed = colKind == "computed"
		col.Deterministic = deterministic != 0
		col.Batchable = batchable != 0
		col.Resource = udf.ResourceClass(resource)
		if exprJSON.Valid {
			col.ExprJSON = json.RawMessage(exprJSON.String)
		}
		snap.Columns = append(snap.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating columns: %w", err)
	}

	snap.index()
	if err := snap.compileColumns(c.fns); err != nil {
		return nil, err
	}
	if err := snap.buildGraph(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshot returns the current snapshot of a table.
func (c *Catalog) Snapshot(name string) (*Snapshot, error) {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()
	snap, ok := c.tables[name]
	if !ok {
		return nil, errors.NewSchemaError(errors.CodeNotFound, fmt.Sprintf("table %q does not exist", name))
	}
	return snap, nil
}

// SnapshotByID returns the current snapshot of a table by id.
func (c *Catalog) SnapshotByID(tableID string) (*Snapshot, error) {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()
	for _, snap := range c.tables {
		if snap.TableID == tableID {
			return snap, nil
		}
	}
	return nil, errors.NewSchemaError(errors.CodeNotFound, fmt.Sprintf("table id %q does not exist", tableID))
}

// SnapshotAt returns the immutable snapshot of a table at a past schema
// version. History is read-only: expressions are compiled but dropped
// columns are not re-evaluated.
func (c *Catalog) SnapshotAt(ctx context.Context, name string, version int) (*Snapshot, error) {
	current, err := c.Snapshot(name)
	if err != nil {
		return nil, err
	}
	if version == current.Version {
		return current, nil
	}

	var schemaJSON string
	err = c.readDB.QueryRowContext(ctx,
		`SELECT schema_json FROM schema_versions WHERE table_id = ? AND version = ?`,
		current.TableID, version,
	).Scan(&schemaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewSchemaError(errors.CodeNotFound,
				fmt.Sprintf("table %q has no schema version %d", name, version))
		}
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to load schema version", err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal([]byte(schemaJSON), snap); err != nil {
		return nil, fmt.Errorf("catalog: failed to decode schema version %d: %w", version, err)
	}
	snap.index()
	if err := snap.compileColumns(c.fns); err != nil {
		return nil, err
	}
	if err := snap.buildGraph(); err != nil {
		return nil, err
	}
	return snap, nil
}

// ListTables returns the names of all active tables and views.
func (c *Catalog) ListTables() []string {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	return names
}

// ChildViews returns the current snapshots of all views whose parent is the
// given table id.
func (c *Catalog) ChildViews(tableID string) []*Snapshot {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()
	var out []*Snapshot
	for _, snap := range c.tables {
		if snap.IsView && snap.ParentID == tableID {
			out = append(out, snap)
		}
	}
	return out
}

// schemaLock returns the mutation lock for a table, creating it if needed.
func (c *Catalog) schemaLock(tableID string) *sync.Mutex {
	c.schemaLocksMu.Lock()
	defer c.schemaLocksMu.Unlock()
	if l, ok := c.schemaLocks[tableID]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.schemaLocks[tableID] = l
	return l
}

// CreateTable registers a new base table. Stored columns declare types;
// computed columns declare expressions over columns earlier in the spec
// list. Returns the version-1 snapshot.
func (c *Catalog) CreateTable(ctx context.Context, name string, specs []ColumnSpec) (*Snapshot, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyBatch, "a table needs at least one column")
	}

	c.tablesMu.RLock()
	_, exists := c.tables[name]
	c.tablesMu.RUnlock()
	if exists {
		return nil, errors.NewSchemaError(errors.CodeDuplicateName, fmt.Sprintf("table %q already exists", name))
	}

	tableID := uuid.NewString()
	snap := &Snapshot{
		TableID:    tableID,
		Name:       name,
		StoreTable: storeTableName(tableID),
		Version:    1,
	}
	snap.index()

	for _, spec := range specs {
		if _, err := c.buildColumn(snap, spec, len(snap.Columns), 1); err != nil {
			return nil, err
		}
	}
	if err := snap.buildGraph(); err != nil {
		return nil, err
	}

	if err := c.persistNewTable(ctx, snap, "table", nil); err != nil {
		return nil, err
	}

	c.tablesMu.Lock()
	c.tables[name] = snap
	c.tablesMu.Unlock()
	return snap, nil
}

// CreateView registers a view over a parent table. The iterator's output
// columns become the view's stored columns (written by the materializer);
// additional computed columns may be declared in specs.
func (c *Catalog) CreateView(ctx context.Context, name, parent string, it IteratorSpec, outputSpecs, computedSpecs []ColumnSpec) (*Snapshot, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	parentSnap, err := c.Snapshot(parent)
	if err != nil {
		return nil, err
	}
	for _, in := range it.Inputs {
		if _, ok := parentSnap.Column(in); !ok {
			return nil, errors.NewSchemaError(errors.CodeDanglingReference,
				fmt.Sprintf("iterator input column %q does not exist on %q", in, parent))
		}
	}

	c.tablesMu.RLock()
	_, exists := c.tables[name]
	c.tablesMu.RUnlock()
	if exists {
		return nil, errors.NewSchemaError(errors.CodeDuplicateName, fmt.Sprintf("table %q already exists", name))
	}

	tableID := uuid.NewString()
	snap := &Snapshot{
		TableID:    tableID,
		Name:       name,
		IsView:     true,
		ParentID:   parentSnap.TableID,
		Iterator:   &it,
		StoreTable: storeTableName(tableID),
		Version:    1,
	}
	snap.index()

	for _, spec := range outputSpecs {
		if spec.Expr != nil {
			return nil, errors.NewValidationError(errors.CodeComputedTarget,
				fmt.Sprintf("iterator output column %q cannot be computed", spec.Name))
		}
		if _, err := c.buildColumn(snap, spec, len(snap.Columns), 1); err != nil {
			return nil, err
		}
	}
	for _, spec := range computedSpecs {
		if spec.Expr == nil {
			return nil, errors.NewValidationError(errors.CodeMalformedRow,
				fmt.Sprintf("view column %q must be computed", spec.Name))
		}
		if _, err := c.buildColumn(snap, spec, len(snap.Columns), 1); err != nil {
			return nil, err
		}
	}
	if err := snap.buildGraph(); err != nil {
		return nil, err
	}

	if err := c.persistNewTable(ctx, snap, "view", &parentSnap.TableID); err != nil {
		return nil, err
	}

	c.tablesMu.Lock()
	c.tables[name] = snap
	c.tablesMu.Unlock()
	return snap, nil
}

// AddColumn adds a stored or computed column to a table, producing a new
// schema version. Computed expressions are compiled against the current
// snapshot, so they can only reference columns that already exist at a
// version at or below the new column's creation version.
func (c *Catalog) AddColumn(ctx context.Context, table string, spec ColumnSpec) (*Snapshot, *Column, error) {
	cur, err := c.Snapshot(table)
	if err != nil {
		return nil, nil, err
	}

	lock := c.schemaLock(cur.TableID)
	lock.Lock()
	defer lock.Unlock()

	// Re-resolve under the lock; another mutation may have won the race.
	cur, err = c.Snapshot(table)
	if err != nil {
		return nil, nil, err
	}
	if _, exists := cur.Column(spec.Name); exists {
		return nil, nil, errors.NewSchemaError(errors.CodeDuplicateName,
			fmt.Sprintf("column %q already exists on %q", spec.Name, table))
	}

	next := cur.clone()
	next.Version = cur.Version + 1

	nextColID, err := c.nextColumnID(ctx, cur.TableID)
	if err != nil {
		return nil, nil, err
	}
	col, err := c.buildColumn(next, spec, nextColID, next.Version)
	if err != nil {
		return nil, nil, err
	}
	if err := next.buildGraph(); err != nil {
		return nil, nil, err
	}

	if err := c.persistSchemaChange(ctx, next, func(tx *sql.Tx) error {
		return insertColumnTx(ctx, tx, next.TableID, col)
	}); err != nil {
		return nil, nil, err
	}

	c.tablesMu.Lock()
	c.tables[table] = next
	c.tablesMu.Unlock()
	return next, col, nil
}

// DropResult reports what a cascading drop removed.
type DropResult struct {
	Snapshot       *Snapshot
	DroppedColumns []*Column
	DroppedIndexes []*IndexRecord
}

// DropColumn removes a column. If other computed columns or indexes depend
// on it and cascade is false, the operation fails with a DependencyExists
// SchemaError; with cascade it drops dependents first, in reverse
// topological order. History stays readable: rows are marked with a
// dropped_version, never deleted.
func (c *Catalog) DropColumn(ctx context.Context, table, column string, cascade bool) (*DropResult, error) {
	cur, err := c.Snapshot(table)
	if err != nil {
		return nil, err
	}

	lock := c.schemaLock(cur.TableID)
	lock.Lock()
	defer lock.Unlock()

	cur, err = c.Snapshot(table)
	if err != nil {
		return nil, err
	}
	col, ok := cur.Column(column)
	if !ok {
		return nil, errors.NewSchemaError(errors.CodeNotFound,
			fmt.Sprintf("column %q does not exist on %q", column, table))
	}

	dependents := cur.Graph.TransitiveDependents(col.ID)
	indexes, err := c.Indexes(ctx, cur.TableID)
	if err != nil {
		return nil, err
	}

	dropIDs := append([]int(nil), dependents...)
	dropIDs = append(dropIDs, col.ID)
	dropSet := make(map[int]bool, len(dropIDs))
	for _, id := range dropIDs {
		dropSet[id] = true
	}

	var boundIndexes []*IndexRecord
	for _, idx := range indexes {
		if dropSet[idx.ColumnID] {
			boundIndexes = append(boundIndexes, idx)
		}
	}

	if !cascade && (len(dependents) > 0 || len(boundIndexes) > 0) {
		return nil, errors.NewSchemaError(errors.CodeDependencyExists,
			fmt.Sprintf("column %q has %d dependent columns and %d indexes; drop with cascade",
				column, len(dependents), len(boundIndexes)))
	}

	next := cur.clone()
	next.Version = cur.Version + 1
	var droppedCols []*Column
	kept := next.Columns[:0]
	for _, nc := range next.Columns {
		if dropSet[nc.ID] {
			droppedCols = append(droppedCols, nc)
		} else {
			kept = append(kept, nc)
		}
	}
	next.Columns = kept
	next.index()
	if err := next.compileColumns(c.fns); err != nil {
		return nil, err
	}
	if err := next.buildGraph(); err != nil {
		return nil, err
	}

	if err := c.persistSchemaChange(ctx, next, func(tx *sql.Tx) error {
		for _, dc := range droppedCols {
			if _, err := tx.ExecContext(ctx,
				`UPDATE columns SET dropped_version = ? WHERE table_id = ? AND col_id = ?`,
				next.Version, next.TableID, dc.ID); err != nil {
				return fmt.Errorf("catalog: failed to drop column %d: %w", dc.ID, err)
			}
		}
		now := time.Now().Unix()
		for _, idx := range boundIndexes {
			if _, err := tx.ExecContext(ctx,
				`UPDATE vector_indexes SET dropped_at = ? WHERE index_id = ?`,
				now, idx.ID); err != nil {
				return fmt.Errorf("catalog: failed to drop index %s: %w", idx.Name, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	c.tablesMu.Lock()
	c.tables[table] = next
	c.tablesMu.Unlock()
	return &DropResult{Snapshot: next, DroppedColumns: droppedCols, DroppedIndexes: boundIndexes}, nil
}

// CreateEmbeddingIndex binds a vector index to a new computed embedding
// column over the source column: embedFn(source). The embedding column is a
// computed column like any other, so failures of the embedding function are
// recorded as errored cells.
func (c *Catalog) CreateEmbeddingIndex(ctx context.Context, table, column, indexName, embedFn, metric string) (*Snapshot, *IndexRecord, *Column, error) {
	if metric == "" {
		metric = "cosine"
	}
	fn, err := c.fns.Lookup(embedFn)
	if err != nil {
		return nil, nil, nil, err
	}
	if fn.Result.Kind != "array" || fn.Result.Dim == 0 {
		return nil, nil, nil, errors.NewSchemaError(errors.CodeTypeMismatch,
			fmt.Sprintf("embedding function %s must return a fixed-dimension array, got %s", embedFn, fn.Result))
	}

	embedColName := fmt.Sprintf("%s_embedding", indexName)
	snap, col, err := c.AddColumn(ctx, table, ColumnSpec{
		Name:     embedColName,
		Nullable: true,
		Expr:     expr.CallFn(embedFn, expr.Col(column)),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	rec := &IndexRecord{
		ID:       uuid.NewString(),
		TableID:  snap.TableID,
		Name:     indexName,
		ColumnID: col.ID,
		EmbedFn:  embedFn,
		Metric:   metric,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO vector_indexes (index_id, table_id, name, column_id, embed_fn, metric, created_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TableID, rec.Name, rec.ColumnID, rec.EmbedFn, rec.Metric, snap.Version, time.Now().Unix())
	if err != nil {
		return nil, nil, nil, errors.NewStorageError(errors.CodeTxFailed, "failed to register index", err)
	}
	return snap, rec, col, nil
}

// UpdateIndexFunction swaps the embedding function recorded for an index, as
// part of a rebuild. The bound column's expression is rewritten to call the
// new function.
func (c *Catalog) UpdateIndexFunction(ctx context.Context, tableName string, rec *IndexRecord, embedFn string) (*Snapshot, *Column, error) {
	fn, err := c.fns.Lookup(embedFn)
	if err != nil {
		return nil, nil, err
	}
	if fn.Result.Kind != "array" || fn.Result.Dim == 0 {
		return nil, nil, errors.NewSchemaError(errors.CodeTypeMismatch,
			fmt.Sprintf("embedding function %s must return a fixed-dimension array, got %s", embedFn, fn.Result))
	}

	cur, err := c.Snapshot(tableName)
	if err != nil {
		return nil, nil, err
	}

	lock := c.schemaLock(cur.TableID)
	lock.Lock()
	defer lock.Unlock()

	cur, err = c.Snapshot(tableName)
	if err != nil {
		return nil, nil, err
	}
	col, ok := cur.ColumnByID(rec.ColumnID)
	if !ok {
		return nil, nil, errors.NewSchemaError(errors.CodeNotFound,
			fmt.Sprintf("index column %d does not exist on %q", rec.ColumnID, tableName))
	}
	call, ok := col.Expr.(*expr.Call)
	if !ok || len(call.Args) != 1 {
		return nil, nil, errors.NewInternalError("index column expression is not a single call", nil)
	}

	next := cur.clone()
	next.Version = cur.Version + 1
	nc, _ := next.ColumnByID(rec.ColumnID)
	nc.Expr = expr.CallFn(embedFn, call.Args[0])
	exprJSON, err := expr.Marshal(nc.Expr)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: failed to encode index expression: %w", err)
	}
	nc.ExprJSON = exprJSON
	nc.Type = fn.Result
	deriveExprMeta(nc, nc.Expr)
	if err := next.compileColumns(c.fns); err != nil {
		return nil, nil, err
	}
	if err := next.buildGraph(); err != nil {
		return nil, nil, err
	}

	if err := c.persistSchemaChange(ctx, next, func(tx *sql.Tx) error {
		typeJSON, err := json.Marshal(nc.Type)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE columns SET expr_json = ?, type_json = ?, deterministic = ?, batchable = ?, resource = ?
			 WHERE table_id = ? AND col_id = ?`,
			string(exprJSON), string(typeJSON), boolInt(nc.Deterministic), boolInt(nc.Batchable),
			string(nc.Resource), next.TableID, nc.ID); err != nil {
			return fmt.Errorf("catalog: failed to update index column: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE vector_indexes SET embed_fn = ? WHERE index_id = ?`,
			embedFn, rec.ID); err != nil {
			return fmt.Errorf("catalog: failed to update index function: %w", err)
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	rec.EmbedFn = embedFn

	c.tablesMu.Lock()
	c.tables[tableName] = next
	c.tablesMu.Unlock()
	return next, nc, nil
}

// Indexes returns the active embedding indexes bound to a table.
func (c *Catalog) Indexes(ctx context.Context, tableID string) ([]*IndexRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT index_id, table_id, name, column_id, embed_fn, metric
		 FROM vector_indexes WHERE table_id = ? AND dropped_at IS NULL`, tableID)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to list indexes", err)
	}
	defer rows.Close()

	var out []*IndexRecord
	for rows.Next() {
		rec := &IndexRecord{}
		if err := rows.Scan(&rec.ID, &rec.TableID, &rec.Name, &rec.ColumnID, &rec.EmbedFn, &rec.Metric); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan index: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllIndexes returns every active embedding index in the catalog.
func (c *Catalog) AllIndexes(ctx context.Context) ([]*IndexRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT index_id, table_id, name, column_id, embed_fn, metric
		 FROM vector_indexes WHERE dropped_at IS NULL`)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to list indexes", err)
	}
	defer rows.Close()

	var out []*IndexRecord
	for rows.Next() {
		rec := &IndexRecord{}
		if err := rows.Scan(&rec.ID, &rec.TableID, &rec.Name, &rec.ColumnID, &rec.EmbedFn, &rec.Metric); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan index: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DropTable removes a table or view. Views of the table are dropped first
// when cascade is set; otherwise their existence fails the drop.
func (c *Catalog) DropTable(ctx context.Context, name string, cascade bool) ([]*Snapshot, error) {
	snap, err := c.Snapshot(name)
	if err != nil {
		return nil, err
	}

	children := c.ChildViews(snap.TableID)
	if len(children) > 0 && !cascade {
		return nil, errors.NewSchemaError(errors.CodeDependencyExists,
			fmt.Sprintf("table %q has %d dependent views; drop with cascade", name, len(children)))
	}

	var dropped []*Snapshot
	for _, child := range children {
		sub, err := c.DropTable(ctx, child.Name, true)
		if err != nil {
			return nil, err
		}
		dropped = append(dropped, sub...)
	}

	c.mu.Lock()
	now := time.Now().Unix()
	_, err = c.db.ExecContext(ctx,
		`UPDATE tables SET dropped_at = ? WHERE table_id = ?`, now, snap.TableID)
	if err == nil {
		_, err = c.db.ExecContext(ctx,
			`UPDATE vector_indexes SET dropped_at = ? WHERE table_id = ? AND dropped_at IS NULL`, now, snap.TableID)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeTxFailed, "failed to drop table", err)
	}

	c.tablesMu.Lock()
	delete(c.tables, name)
	c.tablesMu.Unlock()
	return append(dropped, snap), nil
}

// Close closes the catalog database connections.
func (c *Catalog) Close() error {
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

// buildColumn validates a spec, compiles its expression if computed, and
// appends the column to the snapshot.
func (c *Catalog) buildColumn(snap *Snapshot, spec ColumnSpec, colID, version int) (*Column, error) {
	if err := validateName(spec.Name); err != nil {
		return nil, err
	}
	if _, exists := snap.Column(spec.Name); exists {
		return nil, errors.NewSchemaError(errors.CodeDuplicateName,
			fmt.Sprintf("duplicate column %q", spec.Name))
	}

	col := &Column{
		ID:             colID,
		Name:           spec.Name,
		Nullable:       spec.Nullable,
		CreatedVersion: version,
		Deterministic:  true,
		Resource:       udf.ResourceCPU,
	}

	if spec.Expr != nil {
		if err := expr.Check(spec.Expr, snap, c.fns); err != nil {
			return nil, err
		}
		exprJSON, err := expr.Marshal(spec.Expr)
		if err != nil {
			return nil, fmt.Errorf("catalog: failed to encode expression for %s: %w", spec.Name, err)
		}
		col.Computed = true
		col.Expr = spec.Expr
		col.ExprJSON = exprJSON
		col.Type = spec.Expr.Type()
		deriveExprMeta(col, spec.Expr)
	} else {
		if spec.Type.Kind == "" {
			return nil, errors.NewValidationError(errors.CodeMalformedRow,
				fmt.Sprintf("column %q declares neither a type nor an expression", spec.Name))
		}
		col.Type = spec.Type
	}

	snap.Columns = append(snap.Columns, col)
	snap.index()
	return col, nil
}

// deriveExprMeta derives evaluation metadata from the calls in an
// expression: the column is deterministic only if every call is, batchable
// only when the whole expression is one batchable call, and its resource
// class is the heaviest class among its calls.
func deriveExprMeta(col *Column, e expr.Expr) {
	col.Deterministic = true
	col.Batchable = false
	col.Resource = udf.ResourceCPU

	var walk func(expr.Expr)
	walk = func(n expr.Expr) {
		switch x := n.(type) {
		case *expr.Call:
			if x.Fn != nil {
				if !x.Fn.Deterministic {
					col.Deterministic = false
				}
				if resourceRank(x.Fn.Resource) > resourceRank(col.Resource) {
					col.Resource = x.Fn.Resource
				}
			}
			for _, a := range x.Args {
				walk(a)
			}
		case *expr.BinaryExpr:
			walk(x.Left)
			walk(x.Right)
		}
	}
	walk(e)

	if _, ok := expr.BatchableCall(e); ok {
		col.Batchable = true
	}
}

func resourceRank(r udf.ResourceClass) int {
	switch r {
	case udf.ResourceRemote:
		return 2
	case udf.ResourceGPU:
		return 1
	}
	return 0
}

// persistNewTable writes a table, its columns, and its version-1 snapshot in
// one transaction.
func (c *Catalog) persistNewTable(ctx context.Context, snap *Snapshot, kind string, parentID *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var iteratorJSON interface{}
	if snap.Iterator != nil {
		raw, err := json.Marshal(snap.Iterator)
		if err != nil {
			return fmt.Errorf("catalog: failed to encode iterator spec: %w", err)
		}
		iteratorJSON = string(raw)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tables (table_id, name, kind, parent_id, iterator_json, store_table, current_version, next_col_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.TableID, snap.Name, kind, parentID, iteratorJSON, snap.StoreTable,
		snap.Version, len(snap.Columns), time.Now().Unix())
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to insert table", err)
	}

	for _, col := range snap.Columns {
		if err := insertColumnTx(ctx, tx, snap.TableID, col); err != nil {
			return err
		}
	}
	if err := insertSchemaVersionTx(ctx, tx, snap); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to commit table creation", err)
	}
	return nil
}

// persistSchemaChange bumps the table version, records the new snapshot, and
// applies the mutation-specific writes in one transaction.
func (c *Catalog) persistSchemaChange(ctx context.Context, next *Snapshot, apply func(tx *sql.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := apply(tx); err != nil {
		return err
	}

	maxID := 0
	for _, col := range next.Columns {
		if col.ID >= maxID {
			maxID = col.ID + 1
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tables SET current_version = ?, next_col_id = MAX(next_col_id, ?) WHERE table_id = ?`,
		next.Version, maxID, next.TableID); err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to bump table version", err)
	}
	if err := insertSchemaVersionTx(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to commit schema change", err)
	}
	return nil
}

func insertColumnTx(ctx context.Context, tx *sql.Tx, tableID string, col *Column) error {
	typeJSON, err := json.Marshal(col.Type)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode column type: %w", err)
	}
	kind := "stored"
	var exprJSON interface{}
	if col.Computed {
		kind = "computed"
		exprJSON = string(col.ExprJSON)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO columns (table_id, col_id, name, type_json, nullable, kind, expr_json,
		                      deterministic, batchable, resource, created_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tableID, col.ID, col.Name, string(typeJSON), boolInt(col.Nullable), kind, exprJSON,
		boolInt(col.Deterministic), boolInt(col.Batchable), string(col.Resource), col.CreatedVersion)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to insert column", err)
	}
	return nil
}

func insertSchemaVersionTx(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	schemaJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode schema snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_versions (table_id, version, schema_json, created_at) VALUES (?, ?, ?, ?)`,
		snap.TableID, snap.Version, string(schemaJSON), time.Now().Unix())
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to insert schema version", err)
	}
	return nil
}

func (c *Catalog) nextColumnID(ctx context.Context, tableID string) (int, error) {
	var next int
	err := c.readDB.QueryRowContext(ctx,
		`SELECT next_col_id FROM tables WHERE table_id = ?`, tableID).Scan(&next)
	if err != nil {
		return 0, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to read next column id", err)
	}
	return next, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func validateName(name string) error {
	if name == "" {
		return errors.NewValidationError(errors.CodeMalformedRow, "name must not be empty")
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.NewValidationError(errors.CodeMalformedRow,
				fmt.Sprintf("name %q contains invalid character %q", name, r))
		}
	}
	return nil
}

func storeTableName(tableID string) string {
	return "t_" + strings.ReplaceAll(tableID, "-", "")
}
