package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/tesseradata/tessera/internal/engine"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/types"
)

// BenchmarkInsertWithComputedColumn measures insert throughput including
// computed-column evaluation.
func BenchmarkInsertWithComputedColumn(b *testing.B) {
	s := benchEngine(b)
	ctx := context.Background()
	batch := generateDocs(100)

	b.ResetTimer()
	b.ReportAllocs()

	totalRows := 0
	for i := 0; i < b.N; i++ {
		res, err := s.Insert(ctx, "docs", batch)
		if err != nil {
			b.Fatal(err)
		}
		totalRows += res.Inserted
	}

	b.ReportMetric(float64(totalRows)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkQueryPushdown measures a scalar predicate pushed into the scan.
func BenchmarkQueryPushdown(b *testing.B) {
	s := benchEngine(b)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "docs", generateDocs(1000)); err != nil {
		b.Fatal(err)
	}
	where := expr.Binary(expr.OpGt, expr.Col("score"), expr.Lit(0.9))

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rows, err := s.Query(ctx, "docs", engine.QueryOptions{Where: where, Limit: 50})
		if err != nil {
			b.Fatal(err)
		}
		if len(rows) == 0 {
			b.Fatal("pushdown query returned no rows")
		}
	}
}

// BenchmarkQueryResidual measures a function-call predicate that cannot be
// pushed down and evaluates engine-side per row.
func BenchmarkQueryResidual(b *testing.B) {
	s := benchEngine(b)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "docs", generateDocs(1000)); err != nil {
		b.Fatal(err)
	}
	where := expr.Binary(expr.OpEq,
		expr.CallFn("upper", expr.Col("text")),
		expr.Lit("DOCUMENT BODY 7 WITH SOME FILLER WORDS"))

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rows, err := s.Query(ctx, "docs", engine.QueryOptions{Where: where})
		if err != nil {
			b.Fatal(err)
		}
		if len(rows) != 1 {
			b.Fatalf("residual query returned %d rows", len(rows))
		}
	}
}

// BenchmarkVectorSearch measures top-k similarity search over a flat index.
func BenchmarkVectorSearch(b *testing.B) {
	s := benchEngine(b)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "docs", generateDocs(1000)); err != nil {
		b.Fatal(err)
	}
	if _, err := s.CreateEmbeddingIndex(ctx, "docs", "text", "semantic", "embed", "cosine"); err != nil {
		b.Fatal(err)
	}

	fn, err := s.Functions().Lookup("embed")
	if err != nil {
		b.Fatal(err)
	}
	v, err := fn.Fn(ctx, []types.Value{"document body 500 with some filler words"})
	if err != nil {
		b.Fatal(err)
	}
	query := v.([]float32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		hits, err := s.Search(ctx, "semantic", query, 10)
		if err != nil {
			b.Fatal(err)
		}
		if len(hits) != 10 {
			b.Fatalf("search returned %d hits", len(hits))
		}
	}
}

// BenchmarkUpdateRecompute measures the incremental recompute path: one
// stored cell changes and its dependents re-evaluate.
func BenchmarkUpdateRecompute(b *testing.B) {
	s := benchEngine(b)
	ctx := context.Background()
	res, err := s.Insert(ctx, "docs", generateDocs(100))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		id := res.RowIDs[i%len(res.RowIDs)]
		_, err := s.Update(ctx, "docs", id, map[string]types.Value{
			"text": fmt.Sprintf("revised body %d", i),
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
