// Package benchmark provides performance benchmarks for the Tessera engine.
package benchmark

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/config"
	"github.com/tesseradata/tessera/internal/engine"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
	"github.com/tesseradata/tessera/internal/view"
)

// benchConfig builds an engine config over a temp data dir. Media storage is
// local unless TESSERA_MEDIA_TYPE=s3 selects an S3 bucket via the
// TESSERA_S3_* variables, the same switch the integration tests use.
func benchConfig(b *testing.B) *config.Config {
	b.Helper()
	_ = godotenv.Load("../../.env")

	cfg := config.DefaultConfig()
	cfg.DataDir = b.TempDir()
	cfg.Eval.BackoffBase = time.Millisecond
	cfg.Eval.BackoffCap = 10 * time.Millisecond

	if os.Getenv("TESSERA_MEDIA_TYPE") == "s3" {
		bucket := os.Getenv("TESSERA_S3_BUCKET")
		if bucket == "" {
			b.Fatal("TESSERA_S3_BUCKET is required when TESSERA_MEDIA_TYPE=s3")
		}
		cfg.Media.Type = "s3"
		cfg.Media.S3.Bucket = bucket
		cfg.Media.S3.Region = os.Getenv("TESSERA_S3_REGION")
		cfg.Media.S3.Endpoint = os.Getenv("TESSERA_S3_ENDPOINT")
		cfg.Media.S3.UsePathStyle = os.Getenv("TESSERA_S3_PATH_STYLE") == "true"
	}
	return cfg
}

// benchFunctions registers the builtins plus a cheap deterministic embedding
// so the computed-column path is exercised without network calls.
func benchFunctions(b *testing.B) *udf.Registry {
	b.Helper()
	r := udf.NewRegistry()
	if err := udf.RegisterBuiltins(r); err != nil {
		b.Fatalf("failed to register builtins: %v", err)
	}
	embed := &udf.Function{
		Name:          "embed",
		Params:        []types.ColumnType{types.String},
		Result:        types.Array(8),
		Deterministic: true,
		Resource:      udf.ResourceCPU,
		Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
			s := args[0].(string)
			vec := make([]float32, 8)
			for i, r := range s {
				vec[i%8] += float32(r)
			}
			return vec, nil
		},
	}
	if err := r.Register(embed); err != nil {
		b.Fatalf("failed to register embed: %v", err)
	}
	return r
}

// benchEngine opens an engine over a docs table with one computed column.
func benchEngine(b *testing.B) *engine.Store {
	b.Helper()
	s, err := engine.Open(context.Background(), benchConfig(b), benchFunctions(b), view.NewRegistry())
	if err != nil {
		b.Fatalf("failed to open engine: %v", err)
	}
	b.Cleanup(func() { s.Close() })

	_, err = s.CreateTable(context.Background(), "docs", []catalog.ColumnSpec{
		{Name: "text", Type: types.String},
		{Name: "score", Type: types.Float, Nullable: true},
		{Name: "text_len", Expr: expr.CallFn("len", expr.Col("text"))},
	})
	if err != nil {
		b.Fatalf("failed to create table: %v", err)
	}
	return s
}

// generateDocs produces n insertable rows with varied text and scores.
func generateDocs(n int) []map[string]types.Value {
	rows := make([]map[string]types.Value, n)
	for i := 0; i < n; i++ {
		rows[i] = map[string]types.Value{
			"text":  fmt.Sprintf("document body %d with some filler words", i),
			"score": float64(i%100) / 100.0,
		}
	}
	return rows
}
