// Package integration provides end-to-end integration tests for Tessera.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/tesseradata/tessera/internal/config"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
)

// testConfig builds an engine config over a temp data dir. Media storage is
// local unless TESSERA_MEDIA_TYPE=s3 is set (via .env or environment), in
// which case the S3 settings map from TESSERA_S3_* variables.
func testConfig(tb testing.TB) *config.Config {
	tb.Helper()
	_ = godotenv.Load("../../.env")

	cfg := config.DefaultConfig()
	cfg.DataDir = tb.TempDir()
	cfg.Eval.BackoffBase = time.Millisecond
	cfg.Eval.BackoffCap = 10 * time.Millisecond

	if os.Getenv("TESSERA_MEDIA_TYPE") == "s3" {
		bucket := os.Getenv("TESSERA_S3_BUCKET")
		if bucket == "" {
			tb.Fatal("TESSERA_S3_BUCKET is required when TESSERA_MEDIA_TYPE=s3")
		}
		cfg.Media.Type = "s3"
		cfg.Media.S3.Bucket = bucket
		cfg.Media.S3.Region = os.Getenv("TESSERA_S3_REGION")
		cfg.Media.S3.Endpoint = os.Getenv("TESSERA_S3_ENDPOINT")
		cfg.Media.S3.UsePathStyle = os.Getenv("TESSERA_S3_PATH_STYLE") == "true"
	}
	return cfg
}

// testFunctions builds a registry with the builtins plus a deterministic
// 3-dimensional embedding derived from character counts.
func testFunctions(tb testing.TB) *udf.Registry {
	tb.Helper()
	r := udf.NewRegistry()
	if err := udf.RegisterBuiltins(r); err != nil {
		tb.Fatalf("failed to register builtins: %v", err)
	}
	embed := &udf.Function{
		Name:          "embed",
		Params:        []types.ColumnType{types.String},
		Result:        types.Array(3),
		Deterministic: true,
		Resource:      udf.ResourceRemote,
		Fn: func(_ context.Context, args []types.Value) (types.Value, error) {
			s := args[0].(string)
			var vowels, spaces float32
			for _, r := range s {
				switch r {
				case 'a', 'e', 'i', 'o', 'u':
					vowels++
				case ' ':
					spaces++
				}
			}
			return []float32{float32(len(s)), vowels, spaces}, nil
		},
	}
	if err := r.Register(embed); err != nil {
		tb.Fatalf("failed to register embed: %v", err)
	}
	return r
}
