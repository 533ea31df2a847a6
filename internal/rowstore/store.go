// Package rowstore persists table rows and their per-cell state in SQLite.
// Each catalog table owns one physical table named by the catalog
// (t_<uuid>). Every catalog column occupies three physical columns: the
// value (c<id>), the cell state (s<id>), and the cell error (e<id>), so a
// cell transition is a single atomic UPDATE.
package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// Store is the SQLite-backed row store shared by all tables of one engine
// instance.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	mu     sync.Mutex
}

// NewStore opens (or creates) the row database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("rowstore: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, readDB: readDB}, nil
}

// Close closes both database connections.
func (s *Store) Close() error {
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// ValueColumn returns the physical value column name for a catalog column.
func ValueColumn(colID int) string { return fmt.Sprintf("c%d", colID) }

// StateColumn returns the physical state column name for a catalog column.
func StateColumn(colID int) string { return fmt.Sprintf("s%d", colID) }

// ErrorColumn returns the physical error column name for a catalog column.
func ErrorColumn(colID int) string { return fmt.Sprintf("e%d", colID) }

// CreateTable creates the physical table for a snapshot. View tables carry
// parent linkage and an output position unique per parent row.
func (s *Store) CreateTable(ctx context.Context, snap *catalog.Snapshot) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", snap.StoreTable)
	b.WriteString("  row_id INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	b.WriteString("  schema_version INTEGER NOT NULL")
	if snap.IsView {
		b.WriteString(",\n  parent_row_id INTEGER NOT NULL,\n  pos INTEGER NOT NULL")
	}
	for _, col := range snap.Columns {
		fmt.Fprintf(&b, ",\n  %s %s", ValueColumn(col.ID), sqliteColumnType(col.Type))
		fmt.Fprintf(&b, ",\n  %s INTEGER NOT NULL DEFAULT 0", StateColumn(col.ID))
		fmt.Fprintf(&b, ",\n  %s TEXT", ErrorColumn(col.ID))
	}
	if snap.IsView {
		b.WriteString(",\n  UNIQUE(parent_row_id, pos)")
	}
	b.WriteString("\n)")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return errors.NewStorageError(errors.CodeStoreUnavailable,
			fmt.Sprintf("failed to create table %s", snap.StoreTable), err)
	}
	if snap.IsView {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s(parent_row_id)",
			snap.StoreTable, snap.StoreTable)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return errors.NewStorageError(errors.CodeStoreUnavailable,
				fmt.Sprintf("failed to index table %s", snap.StoreTable), err)
		}
	}
	return nil
}

// AddColumn extends the physical table with the three columns backing a new
// catalog column. Existing rows see the default state (pending).
func (s *Store) AddColumn(ctx context.Context, snap *catalog.Snapshot, col *catalog.Column) error {
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", snap.StoreTable, ValueColumn(col.ID), sqliteColumnType(col.Type)),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER NOT NULL DEFAULT 0", snap.StoreTable, StateColumn(col.ID)),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", snap.StoreTable, ErrorColumn(col.ID)),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStorageError(errors.CodeStoreUnavailable,
				fmt.Sprintf("failed to add column %s to %s", col.Name, snap.StoreTable), err)
		}
	}
	return nil
}

// DropTable removes the physical table.
func (s *Store) DropTable(ctx context.Context, snap *catalog.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+snap.StoreTable); err != nil {
		return errors.NewStorageError(errors.CodeStoreUnavailable,
			fmt.Sprintf("failed to drop table %s", snap.StoreTable), err)
	}
	return nil
}

// Insert persists a batch of rows in one transaction and assigns their row
// ids. Cells default to pending; present cells carry encoded values, errored
// cells carry serialized errors.
func (s *Store) Insert(ctx context.Context, snap *catalog.Snapshot, rows []*types.Row) error {
	if len(rows) == 0 {
		return nil
	}

	cols := []string{"schema_version"}
	if snap.IsView {
		cols = append(cols, "parent_row_id", "pos")
	}
	for _, col := range snap.Columns {
		cols = append(cols, ValueColumn(col.ID), StateColumn(col.ID), ErrorColumn(col.ID))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		snap.StoreTable, strings.Join(cols, ", "), placeholders)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to begin insert transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]interface{}, 0, len(cols))
		args = append(args, snap.Version)
		if snap.IsView {
			args = append(args, int64(row.ParentID), row.Pos)
		}
		for _, col := range snap.Columns {
			cell := row.Cell(col.ID)
			triple, err := cellArgs(col.Type, cell)
			if err != nil {
				return err
			}
			args = append(args, triple...)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return errors.NewStorageError(errors.CodeTxFailed, "failed to insert row", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errors.NewStorageError(errors.CodeTxFailed, "failed to read inserted row id", err)
		}
		row.ID = types.RowID(id)
		row.SchemaVersion = snap.Version
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to commit insert", err)
	}
	return nil
}

// CellUpdate transitions one cell of one row.
type CellUpdate struct {
	RowID    types.RowID
	ColumnID int
	Cell     types.Cell
}

// ApplyCellUpdates persists cell transitions. Each row's value, state, and
// error land in a single UPDATE, so readers never observe a half-written
// cell; the whole batch commits in one transaction.
func (s *Store) ApplyCellUpdates(ctx context.Context, snap *catalog.Snapshot, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to begin update transaction", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		col, ok := snap.ColumnByID(u.ColumnID)
		if !ok {
			return errors.NewSchemaError(errors.CodeNotFound,
				fmt.Sprintf("column %d does not exist on %s", u.ColumnID, snap.Name))
		}
		triple, err := cellArgs(col.Type, u.Cell)
		if err != nil {
			return err
		}
		updateSQL := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE row_id = ?",
			snap.StoreTable, ValueColumn(col.ID), StateColumn(col.ID), ErrorColumn(col.ID))
		if _, err := tx.ExecContext(ctx, updateSQL, triple[0], triple[1], triple[2], int64(u.RowID)); err != nil {
			return errors.NewStorageError(errors.CodeTxFailed, "failed to update cell", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to commit cell updates", err)
	}
	return nil
}

// UpdateStored overwrites stored cells of one row and resets the given
// computed columns to pending, all in one transaction. The reset columns are
// the transitive dependents of the changed cells.
func (s *Store) UpdateStored(ctx context.Context, snap *catalog.Snapshot, rowID types.RowID, values map[int]types.Value, resetCols []int) error {
	var sets []string
	var args []interface{}
	for colID, v := range values {
		col, ok := snap.ColumnByID(colID)
		if !ok {
			return errors.NewSchemaError(errors.CodeNotFound,
				fmt.Sprintf("column %d does not exist on %s", colID, snap.Name))
		}
		enc, err := encodeValue(col.Type, v)
		if err != nil {
			return err
		}
		state := types.CellPresent
		if v == nil {
			if !col.Nullable {
				return errors.NewValidationError(errors.CodeMalformedRow,
					fmt.Sprintf("column %q is not nullable", col.Name))
			}
		}
		sets = append(sets,
			fmt.Sprintf("%s = ?, %s = ?, %s = NULL", ValueColumn(colID), StateColumn(colID), ErrorColumn(colID)))
		args = append(args, enc, int(state))
	}
	for _, colID := range resetCols {
		sets = append(sets,
			fmt.Sprintf("%s = NULL, %s = ?, %s = NULL", ValueColumn(colID), StateColumn(colID), ErrorColumn(colID)))
		args = append(args, int(types.CellPending))
	}
	args = append(args, int64(rowID))

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE row_id = ?",
		snap.StoreTable, strings.Join(sets, ", "))

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, updateSQL, args...)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to update row", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.NewStorageError(errors.CodeRowNotFound,
			fmt.Sprintf("row %d does not exist in %s", rowID, snap.Name), nil)
	}
	return nil
}

// DeleteRows removes rows by id and returns the number deleted.
func (s *Store) DeleteRows(ctx context.Context, snap *catalog.Snapshot, ids []types.RowID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE row_id IN (%s)", snap.StoreTable, placeholders), args...)
	if err != nil {
		return 0, errors.NewStorageError(errors.CodeTxFailed, "failed to delete rows", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewStorageError(errors.CodeTxFailed, "failed to count deleted rows", err)
	}
	return n, nil
}

// ChildRowIDs returns the ids of a view's rows derived from the given parent
// rows, used for cascading deletes and re-materialization.
func (s *Store) ChildRowIDs(ctx context.Context, viewSnap *catalog.Snapshot, parentIDs []types.RowID) ([]types.RowID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(parentIDs)), ",")
	args := make([]interface{}, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = int64(id)
	}
	rows, err := s.readDB.QueryContext(ctx,
		fmt.Sprintf("SELECT row_id FROM %s WHERE parent_row_id IN (%s)", viewSnap.StoreTable, placeholders),
		args...)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to list child rows", err)
	}
	defer rows.Close()

	var out []types.RowID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rowstore: failed to scan row id: %w", err)
		}
		out = append(out, types.RowID(id))
	}
	return out, rows.Err()
}

// ScanOptions controls a table scan. WhereSQL is a predicate over physical
// value columns produced by expression pushdown; the residual predicate runs
// in the engine.
type ScanOptions struct {
	WhereSQL string
	Args     []interface{}
	Limit    int

	// ParentIDs restricts a view scan to rows of the given parents.
	ParentIDs []types.RowID

	// MaxVersion excludes rows inserted after the given schema version.
	// Zero means no version bound.
	MaxVersion int
}

// Scan reads rows matching the options, decoding every column of the
// snapshot. View rows order by (parent_row_id, pos); base rows by row_id.
func (s *Store) Scan(ctx context.Context, snap *catalog.Snapshot, opts ScanOptions) ([]*types.Row, error) {
	cols := []string{"row_id", "schema_version"}
	if snap.IsView {
		cols = append(cols, "parent_row_id", "pos")
	}
	for _, col := range snap.Columns {
		cols = append(cols, ValueColumn(col.ID), StateColumn(col.ID), ErrorColumn(col.ID))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), snap.StoreTable)

	var conds []string
	var args []interface{}
	if opts.WhereSQL != "" {
		conds = append(conds, "("+opts.WhereSQL+")")
		args = append(args, opts.Args...)
	}
	if len(opts.ParentIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.ParentIDs)), ",")
		conds = append(conds, fmt.Sprintf("parent_row_id IN (%s)", placeholders))
		for _, id := range opts.ParentIDs {
			args = append(args, int64(id))
		}
	}
	if opts.MaxVersion > 0 {
		conds = append(conds, "schema_version <= ?")
		args = append(args, opts.MaxVersion)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if snap.IsView {
		b.WriteString(" ORDER BY parent_row_id ASC, pos ASC")
	} else {
		b.WriteString(" ORDER BY row_id ASC")
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}

	rows, err := s.readDB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to scan rows", err)
	}
	defer rows.Close()

	var out []*types.Row
	for rows.Next() {
		row, err := scanRow(rows, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetRow reads a single row by id.
func (s *Store) GetRow(ctx context.Context, snap *catalog.Snapshot, id types.RowID) (*types.Row, error) {
	rows, err := s.Scan(ctx, snap, ScanOptions{WhereSQL: "row_id = ?", Args: []interface{}{int64(id)}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewStorageError(errors.CodeRowNotFound,
			fmt.Sprintf("row %d does not exist in %s", id, snap.Name), nil)
	}
	return rows[0], nil
}

// RowsWithState reads rows whose cell in the given column has the given
// state, for resuming interrupted evaluation and rebuilding indexes.
func (s *Store) RowsWithState(ctx context.Context, snap *catalog.Snapshot, colID int, state types.CellState) ([]*types.Row, error) {
	return s.Scan(ctx, snap, ScanOptions{
		WhereSQL: fmt.Sprintf("%s = ?", StateColumn(colID)),
		Args:     []interface{}{int(state)},
	})
}

// Count returns the number of rows in a table.
func (s *Store) Count(ctx context.Context, snap *catalog.Snapshot) (int64, error) {
	var n int64
	err := s.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+snap.StoreTable).Scan(&n)
	if err != nil {
		return 0, errors.NewStorageError(errors.CodeStoreUnavailable, "failed to count rows", err)
	}
	return n, nil
}

// cellArgs encodes one cell into its (value, state, error) SQL arguments.
func cellArgs(t types.ColumnType, cell types.Cell) ([]interface{}, error) {
	switch cell.State {
	case types.CellPresent:
		enc, err := encodeValue(t, cell.Value)
		if err != nil {
			return nil, err
		}
		return []interface{}{enc, int(types.CellPresent), nil}, nil
	case types.CellErrored:
		if cell.Error == nil {
			return nil, errors.NewInternalError("errored cell without error detail", nil)
		}
		raw, err := json.Marshal(cell.Error)
		if err != nil {
			return nil, fmt.Errorf("rowstore: failed to encode cell error: %w", err)
		}
		return []interface{}{nil, int(types.CellErrored), string(raw)}, nil
	default:
		return []interface{}{nil, int(types.CellPending), nil}, nil
	}
}

// scanRow decodes one physical row into the cell model.
func scanRow(rows *sql.Rows, snap *catalog.Snapshot) (*types.Row, error) {
	n := 2 + 3*len(snap.Columns)
	if snap.IsView {
		n += 2
	}
	dest := make([]interface{}, n)
	for i := range dest {
		dest[i] = new(interface{})
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("rowstore: failed to scan row: %w", err)
	}

	next := func(i int) interface{} { return *(dest[i].(*interface{})) }

	row := &types.Row{Cells: make(map[int]types.Cell, len(snap.Columns))}
	id, _ := next(0).(int64)
	row.ID = types.RowID(id)
	ver, _ := next(1).(int64)
	row.SchemaVersion = int(ver)
	i := 2
	if snap.IsView {
		pid, _ := next(i).(int64)
		row.ParentID = types.RowID(pid)
		row.Pos, _ = next(i + 1).(int64)
		i += 2
	}

	for _, col := range snap.Columns {
		rawVal, rawState, rawErr := next(i), next(i+1), next(i+2)
		i += 3

		state := types.CellPending
		if sv, ok := rawState.(int64); ok {
			state = types.CellState(sv)
		}
		switch state {
		case types.CellPresent:
			v, err := decodeValue(col.Type, rawVal)
			if err != nil {
				return nil, err
			}
			row.Cells[col.ID] = types.PresentCell(v)
		case types.CellErrored:
			s, err := asString(rawErr)
			if err != nil {
				return nil, err
			}
			var ce types.CellError
			if err := json.Unmarshal([]byte(s), &ce); err != nil {
				return nil, fmt.Errorf("rowstore: failed to decode cell error: %w", err)
			}
			row.Cells[col.ID] = types.ErroredCell(&ce)
		default:
			row.Cells[col.ID] = types.Cell{State: types.CellPending}
		}
	}
	return row, nil
}
