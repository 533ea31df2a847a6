package rowstore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
)

type testStore struct {
	cat   *catalog.Catalog
	store *Store
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	dir := t.TempDir()
	fns := udf.NewRegistry()
	if err := udf.RegisterBuiltins(fns); err != nil {
		t.Fatalf("failed to register builtins: %v", err)
	}
	cat, err := catalog.NewCatalog(filepath.Join(dir, "catalog.db"), fns)
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	store, err := NewStore(filepath.Join(dir, "rows.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		cat.Close()
	})
	return &testStore{cat: cat, store: store}
}

// newDocsTable creates a table exercising every storage class: native
// scalars, blob-encoded array and json, and a pending computed column.
func (ts *testStore) newDocsTable(t *testing.T) *catalog.Snapshot {
	t.Helper()
	ctx := context.Background()
	snap, err := ts.cat.CreateTable(ctx, "docs", []catalog.ColumnSpec{
		{Name: "text", Type: types.String},
		{Name: "score", Type: types.Float, Nullable: true},
		{Name: "tags", Type: types.Json, Nullable: true},
		{Name: "vec", Type: types.Array(3), Nullable: true},
		{Name: "text_len", Expr: expr.CallFn("len", expr.Col("text"))},
	})
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if err := ts.store.CreateTable(ctx, snap); err != nil {
		t.Fatalf("failed to create physical table: %v", err)
	}
	return snap
}

func storedRow(snap *catalog.Snapshot, text string, score float64) *types.Row {
	row := types.NewRow(0, snap.Version)
	textCol, _ := snap.Column("text")
	scoreCol, _ := snap.Column("score")
	row.Cells[textCol.ID] = types.PresentCell(text)
	row.Cells[scoreCol.ID] = types.PresentCell(score)
	return row
}

func TestInsertScan_RoundTrip(t *testing.T) {
	ts := newTestStore(t)
	snap := ts.newDocsTable(t)
	ctx := context.Background()

	row := storedRow(snap, "hello", 0.9)
	tagsCol, _ := snap.Column("tags")
	vecCol, _ := snap.Column("vec")
	row.Cells[tagsCol.ID] = types.PresentCell(map[string]interface{}{"lang": "en"})
	row.Cells[vecCol.ID] = types.PresentCell([]float32{1, 2, 3})

	if err := ts.store.Insert(ctx, snap, []*types.Row{row, storedRow(snap, "world", 0.1)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if row.ID == 0 {
		t.Fatalf("insert should assign row ids")
	}

	got, err := ts.store.Scan(ctx, snap, ScanOptions{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}

	first := got[0]
	textCol, _ := snap.Column("text")
	if v := first.Cell(textCol.ID).Value; v != "hello" {
		t.Errorf("text = %v", v)
	}
	if vec := first.Cell(vecCol.ID).Value; !reflect.DeepEqual(vec, []float32{1, 2, 3}) {
		t.Errorf("vec = %v", vec)
	}
	tags, ok := first.Cell(tagsCol.ID).Value.(map[string]interface{})
	if !ok || tags["lang"] != "en" {
		t.Errorf("tags = %v", first.Cell(tagsCol.ID).Value)
	}

	// The computed column was never evaluated and must read back pending.
	lenCol, _ := snap.Column("text_len")
	if st := first.Cell(lenCol.ID).State; st != types.CellPending {
		t.Errorf("computed cell should be pending, got %v", st)
	}
	if first.SchemaVersion != snap.Version {
		t.Errorf("rows should be tagged with the insert version, got %d", first.SchemaVersion)
	}
}

func TestApplyCellUpdates_Transitions(t *testing.T) {
	ts := newTestStore(t)
	snap := ts.newDocsTable(t)
	ctx := context.Background()

	rows := []*types.Row{storedRow(snap, "ok", 1), storedRow(snap, "boom", 2)}
	if err := ts.store.Insert(ctx, snap, rows); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	lenCol, _ := snap.Column("text_len")
	updates := []CellUpdate{
		{RowID: rows[0].ID, ColumnID: lenCol.ID, Cell: types.PresentCell(int64(2))},
		{RowID: rows[1].ID, ColumnID: lenCol.ID, Cell: types.ErroredCell(&types.CellError{
			RowID: rows[1].ID, Column: "text_len", Kind: errors.CodeUDFFailed, Message: "boom",
		})},
	}
	if err := ts.store.ApplyCellUpdates(ctx, snap, updates); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	got, err := ts.store.GetRow(ctx, snap, rows[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if c := got.Cell(lenCol.ID); c.State != types.CellPresent || c.Value != int64(2) {
		t.Errorf("expected present 2, got %+v", c)
	}

	got, _ = ts.store.GetRow(ctx, snap, rows[1].ID)
	c := got.Cell(lenCol.ID)
	if c.State != types.CellErrored || c.Error == nil {
		t.Fatalf("expected errored cell, got %+v", c)
	}
	if c.Error.Message != "boom" || c.Error.Kind != errors.CodeUDFFailed {
		t.Errorf("error detail did not round trip: %+v", c.Error)
	}

	// RowsWithState sees the transition.
	errored, err := ts.store.RowsWithState(ctx, snap, lenCol.ID, types.CellErrored)
	if err != nil || len(errored) != 1 || errored[0].ID != rows[1].ID {
		t.Errorf("RowsWithState(errored) = %v, %v", errored, err)
	}
}

func TestScan_PushedPredicate(t *testing.T) {
	ts := newTestStore(t)
	snap := ts.newDocsTable(t)
	ctx := context.Background()

	rows := []*types.Row{
		storedRow(snap, "a", 0.1),
		storedRow(snap, "b", 0.5),
		storedRow(snap, "c", 0.9),
	}
	if err := ts.store.Insert(ctx, snap, rows); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	scoreCol, _ := snap.Column("score")
	got, err := ts.store.Scan(ctx, snap, ScanOptions{
		WhereSQL: ValueColumn(scoreCol.ID) + " > ?",
		Args:     []interface{}{0.3},
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matching rows, got %d", len(got))
	}
	textCol, _ := snap.Column("text")
	if got[0].Cell(textCol.ID).Value != "b" || got[1].Cell(textCol.ID).Value != "c" {
		t.Errorf("unexpected match order")
	}

	got, _ = ts.store.Scan(ctx, snap, ScanOptions{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit not applied, got %d rows", len(got))
	}
}

func TestScan_MaxVersion(t *testing.T) {
	ts := newTestStore(t)
	snap := ts.newDocsTable(t)
	ctx := context.Background()

	if err := ts.store.Insert(ctx, snap, []*types.Row{storedRow(snap, "old", 1)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Bump the schema and insert a second row at version 2.
	snap2, col, err := ts.cat.AddColumn(ctx, "docs", catalog.ColumnSpec{
		Name: "note", Type: types.String, Nullable: true,
	})
	if err != nil {
		t.Fatalf("add column failed: %v", err)
	}
	if err := ts.store.AddColumn(ctx, snap2, col); err != nil {
		t.Fatalf("physical add column failed: %v", err)
	}
	if err := ts.store.Insert(ctx, snap2, []*types.Row{storedRow(snap2, "new", 2)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := ts.store.Scan(ctx, snap2, ScanOptions{MaxVersion: 1})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 1 || got[0].SchemaVersion != 1 {
		t.Errorf("version bound should exclude the newer row, got %d rows", len(got))
	}
}

func TestUpdateStored_ResetsDependents(t *testing.T) {
	ts := newTestStore(t)
	snap := ts.newDocsTable(t)
	ctx := context.Background()

	row := storedRow(snap, "hi", 0.5)
	if err := ts.store.Insert(ctx, snap, []*types.Row{row}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	textCol, _ := snap.Column("text")
	lenCol, _ := snap.Column("text_len")
	if err := ts.store.ApplyCellUpdates(ctx, snap, []CellUpdate{
		{RowID: row.ID, ColumnID: lenCol.ID, Cell: types.PresentCell(int64(2))},
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	err := ts.store.UpdateStored(ctx, snap, row.ID,
		map[int]types.Value{textCol.ID: "rewritten"}, []int{lenCol.ID})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, _ := ts.store.GetRow(ctx, snap, row.ID)
	if got.Cell(textCol.ID).Value != "rewritten" {
		t.Errorf("stored value not updated: %v", got.Cell(textCol.ID).Value)
	}
	if got.Cell(lenCol.ID).State != types.CellPending {
		t.Errorf("dependent cell should be reset to pending")
	}

	err = ts.store.UpdateStored(ctx, snap, types.RowID(9999),
		map[int]types.Value{textCol.ID: "x"}, nil)
	if errors.GetCode(err) != errors.CodeRowNotFound {
		t.Errorf("expected ROW_NOT_FOUND, got %v", err)
	}
}

func TestViewRows_ParentOrderAndChildLookup(t *testing.T) {
	ts := newTestStore(t)
	ctx := context.Background()

	parent, err := ts.cat.CreateTable(ctx, "docs", []catalog.ColumnSpec{
		{Name: "text", Type: types.String},
	})
	if err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}
	view, err := ts.cat.CreateView(ctx, "chunks", "docs",
		catalog.IteratorSpec{Name: "string_splitter", Inputs: []string{"text"}},
		[]catalog.ColumnSpec{{Name: "chunk", Type: types.String, Nullable: true}}, nil)
	if err != nil {
		t.Fatalf("failed to create view: %v", err)
	}
	if err := ts.store.CreateTable(ctx, view); err != nil {
		t.Fatalf("failed to create physical view table: %v", err)
	}

	chunkCol, _ := view.Column("chunk")
	mkChunk := func(parentID types.RowID, pos int64, text string) *types.Row {
		r := types.NewRow(0, view.Version)
		r.ParentID = parentID
		r.Pos = pos
		r.Cells[chunkCol.ID] = types.PresentCell(text)
		return r
	}
	// Insert out of order; scans must come back (parent, pos) ordered.
	rows := []*types.Row{
		mkChunk(2, 0, "c"),
		mkChunk(1, 1, "b"),
		mkChunk(1, 0, "a"),
	}
	if err := ts.store.Insert(ctx, view, rows); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := ts.store.Scan(ctx, view, ScanOptions{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	var order []string
	for _, r := range got {
		order = append(order, r.Cell(chunkCol.ID).Value.(string))
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Errorf("view scan order = %v", order)
	}

	ids, err := ts.store.ChildRowIDs(ctx, view, []types.RowID{1})
	if err != nil || len(ids) != 2 {
		t.Errorf("ChildRowIDs(1) = %v, %v", ids, err)
	}
	_ = parent
}

func TestDeleteRows(t *testing.T) {
	ts := newTestStore(t)
	snap := ts.newDocsTable(t)
	ctx := context.Background()

	rows := []*types.Row{storedRow(snap, "a", 1), storedRow(snap, "b", 2)}
	if err := ts.store.Insert(ctx, snap, rows); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	n, err := ts.store.DeleteRows(ctx, snap, []types.RowID{rows[0].ID})
	if err != nil || n != 1 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	count, err := ts.store.Count(ctx, snap)
	if err != nil || count != 1 {
		t.Errorf("count = %d, %v", count, err)
	}
	if _, err := ts.store.GetRow(ctx, snap, rows[0].ID); errors.GetCode(err) != errors.CodeRowNotFound {
		t.Errorf("deleted row should be gone, got %v", err)
	}
}
