package integration

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/engine"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
	"github.com/tesseradata/tessera/internal/view"
)

// TestPipeline_EndToEnd drives a full document pipeline through the public
// engine surface: a base table with computed columns, a chunk view, an
// embedding index, media storage, incremental updates, and a reopen.
func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	fns := testFunctions(t)

	s, err := engine.Open(ctx, cfg, fns, view.NewRegistry())
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	defer s.Close()

	snap, err := s.CreateTable(ctx, "docs", []catalog.ColumnSpec{
		{Name: "title", Type: types.String},
		{Name: "body", Type: types.String},
		{Name: "rating", Type: types.Float, Nullable: true},
		{Name: "body_len", Expr: expr.CallFn("len", expr.Col("body"))},
	})
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	res, err := s.Insert(ctx, "docs", []map[string]types.Value{
		{"title": "alpha", "body": "an apple a day", "rating": 0.9},
		{"title": "beta", "body": "sound of silence", "rating": 0.2},
		{"title": "gamma", "body": "east of eden", "rating": 0.7},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if res.Inserted != 3 || len(res.CellErrors) != 0 {
		t.Fatalf("unexpected insert result: %+v", res)
	}

	// Chunk view over the body column, with its own computed column.
	_, err = s.CreateView(ctx, "chunks", "docs", "string_splitter",
		[]string{"body"}, map[string]interface{}{"chunk_size": 6},
		[]catalog.ColumnSpec{
			{Name: "chunk_upper", Expr: expr.CallFn("upper", expr.Col("chunk"))},
		})
	if err != nil {
		t.Fatalf("failed to create view: %v", err)
	}
	chunks, err := s.Query(ctx, "chunks", engine.QueryOptions{})
	if err != nil {
		t.Fatalf("view query failed: %v", err)
	}
	// ceil(14/6) + ceil(16/6) + ceil(12/6) chunks.
	if len(chunks) != 8 {
		t.Fatalf("expected 8 chunks, got %d", len(chunks))
	}

	// Embedding index and similarity search.
	if _, err := s.CreateEmbeddingIndex(ctx, "docs", "body", "semantic", "embed", "cosine"); err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	queryVec := mustEmbed(t, fns, "an apple a day")
	hits, err := s.Search(ctx, "semantic", queryVec, 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].RowID != res.RowIDs[0] {
		t.Fatalf("expected the apple row as top hit, got %+v", hits)
	}

	// Media round trip through whichever store the config selected.
	ref, err := s.PutMedia(ctx, "pipeline/cover.txt", strings.NewReader("cover art"))
	if err != nil {
		t.Fatalf("put media failed: %v", err)
	}
	rc, err := s.OpenMedia(ctx, ref)
	if err != nil {
		t.Fatalf("open media failed: %v", err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(content) != "cover art" {
		t.Fatalf("media round trip: %q, %v", content, err)
	}

	// Updating an input column recomputes its dependents and re-derives
	// dependent view rows.
	upd, err := s.Update(ctx, "docs", res.RowIDs[1], map[string]types.Value{"body": "short"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(upd.Recomputed) == 0 {
		t.Errorf("expected recomputed columns, got none")
	}
	rows, err := s.Query(ctx, "docs", engine.QueryOptions{
		Where: expr.Binary(expr.OpEq, expr.Col("title"), expr.Lit("beta")),
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("query after update: %d rows, %v", len(rows), err)
	}
	lenCol, _ := snap.Column("body_len")
	if got := rows[0].Cell(lenCol.ID).Value; got != int64(5) {
		t.Errorf("body_len after update = %v, want 5", got)
	}
	chunks, err = s.Query(ctx, "chunks", engine.QueryOptions{})
	if err != nil || len(chunks) != 6 {
		t.Fatalf("chunks after update: %d rows, %v", len(chunks), err)
	}

	// Deleting a parent row cascades into the view.
	if _, err := s.Delete(ctx, "docs", []types.RowID{res.RowIDs[2]}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	chunks, err = s.Query(ctx, "chunks", engine.QueryOptions{})
	if err != nil || len(chunks) != 4 {
		t.Fatalf("chunks after delete: %d rows, %v", len(chunks), err)
	}

	// Reopen from the same data dir: catalog, rows, and index survive.
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	s, err = engine.Open(ctx, cfg, fns, view.NewRegistry())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	rows, err = s.Query(ctx, "docs", engine.QueryOptions{})
	if err != nil || len(rows) != 2 {
		t.Fatalf("query after reopen: %d rows, %v", len(rows), err)
	}
	hits, err = s.Search(ctx, "semantic", queryVec, 1)
	if err != nil || len(hits) != 1 || hits[0].RowID != res.RowIDs[0] {
		t.Fatalf("search after reopen: %+v, %v", hits, err)
	}
}

// TestPipeline_TimeTravel verifies that versioned reads see historical schema
// after columns are added and dropped.
func TestPipeline_TimeTravel(t *testing.T) {
	ctx := context.Background()
	s, err := engine.Open(ctx, testConfig(t), testFunctions(t), view.NewRegistry())
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	defer s.Close()

	snap, err := s.CreateTable(ctx, "events", []catalog.ColumnSpec{
		{Name: "name", Type: types.String},
		{Name: "weight", Type: types.Float, Nullable: true},
	})
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := s.Insert(ctx, "events", []map[string]types.Value{
		{"name": "launch", "weight": 1.5},
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if _, err := s.AddColumn(ctx, "events", catalog.ColumnSpec{
		Name: "name_upper", Expr: expr.CallFn("upper", expr.Col("name")),
	}); err != nil {
		t.Fatalf("add column failed: %v", err)
	}
	if _, err := s.Insert(ctx, "events", []map[string]types.Value{
		{"name": "retro", "weight": 0.5},
	}); err != nil {
		t.Fatalf("second insert failed: %v", err)
	}

	// A version-1 read sees only the first row through the original schema.
	rows, err := s.Query(ctx, "events", engine.QueryOptions{Version: snap.Version})
	if err != nil {
		t.Fatalf("versioned query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("version %d read: got %d rows, want 1", snap.Version, len(rows))
	}

	// Dropping a column keeps it readable at older versions.
	if err := s.DropColumn(ctx, "events", "weight", false); err != nil {
		t.Fatalf("drop column failed: %v", err)
	}
	rows, err = s.Query(ctx, "events", engine.QueryOptions{Version: snap.Version})
	if err != nil || len(rows) != 1 {
		t.Fatalf("versioned query after drop: %d rows, %v", len(rows), err)
	}
	weightCol, ok := snap.Column("weight")
	if !ok {
		t.Fatal("weight column missing from version-1 snapshot")
	}
	if got := rows[0].Cell(weightCol.ID).Value; got != 1.5 {
		t.Errorf("historical weight = %v, want 1.5", got)
	}
}

func mustEmbed(t *testing.T, fns *udf.Registry, text string) []float32 {
	t.Helper()
	fn, err := fns.Lookup("embed")
	if err != nil {
		t.Fatalf("embed function missing: %v", err)
	}
	v, err := fn.Fn(context.Background(), []types.Value{text})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	return v.([]float32)
}
