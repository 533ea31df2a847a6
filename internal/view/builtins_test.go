package view

import (
	"context"
	"testing"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/media"
	"github.com/tesseradata/tessera/internal/types"
)

// drain consumes a cursor to exhaustion and closes it.
func drain(t *testing.T, it Iterator, inputs []types.Value, args map[string]interface{}) []map[string]types.Value {
	t.Helper()
	cur, err := it.Open(context.Background(), inputs, args)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer cur.Close()

	var out []map[string]types.Value
	for {
		row, ok, err := cur.Next(context.Background())
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, row)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("string_splitter"); err != nil {
		t.Errorf("string_splitter should be preloaded: %v", err)
	}
	if _, err := r.Lookup("frame_enumerator"); err != nil {
		t.Errorf("frame_enumerator should be preloaded: %v", err)
	}
	if _, err := r.Lookup("ghost"); errors.GetCode(err) != errors.CodeDanglingReference {
		t.Errorf("expected DANGLING_REFERENCE for unknown iterator, got %v", err)
	}
	if err := r.Register(&StringSplitter{}); errors.GetCode(err) != errors.CodeDuplicateName {
		t.Errorf("expected DUPLICATE_NAME for re-registration, got %v", err)
	}
}

func TestStringSplitter_Chunks(t *testing.T) {
	s := &StringSplitter{}
	ctx := context.Background()
	args := map[string]interface{}{"chunk_size": 4}

	// Length 10 at chunk size 4 yields ceil(10/4) = 3 chunks.
	out := drain(t, s, []types.Value{"abcdefghij"}, args)
	if len(out) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(out))
	}
	want := []string{"abcd", "efgh", "ij"}
	for i, row := range out {
		if row["chunk"] != want[i] {
			t.Errorf("chunk %d = %v, want %s", i, row["chunk"], want[i])
		}
		if row["chunk_idx"] != int64(i) {
			t.Errorf("chunk_idx %d = %v", i, row["chunk_idx"])
		}
	}

	// Empty text yields no rows; nil input yields no rows.
	if out := drain(t, s, []types.Value{""}, args); len(out) != 0 {
		t.Errorf("empty text: %v rows", out)
	}
	if out := drain(t, s, []types.Value{nil}, args); len(out) != 0 {
		t.Errorf("nil input: %v rows", out)
	}

	// The chunk boundary is counted in runes, not bytes.
	out = drain(t, s, []types.Value{"日本語テキスト"}, map[string]interface{}{"chunk_size": 3})
	if len(out) != 3 {
		t.Fatalf("rune text: %d rows", len(out))
	}
	if out[0]["chunk"] != "日本語" {
		t.Errorf("first rune chunk = %v", out[0]["chunk"])
	}

	_, err := s.Open(ctx, []types.Value{"x"}, map[string]interface{}{})
	if errors.GetCode(err) != errors.CodeMalformedRow {
		t.Errorf("missing chunk_size should fail, got %v", err)
	}
	_, err = s.Open(ctx, []types.Value{"x"}, map[string]interface{}{"chunk_size": 0})
	if errors.GetCode(err) != errors.CodeMalformedRow {
		t.Errorf("zero chunk_size should fail, got %v", err)
	}
}

func TestStringSplitter_OutputColumns(t *testing.T) {
	s := &StringSplitter{}
	cols, err := s.OutputColumns(map[string]interface{}{"chunk_size": 8})
	if err != nil {
		t.Fatalf("output columns failed: %v", err)
	}
	if len(cols) != 2 || cols[0].Name != "chunk" || cols[1].Name != "chunk_idx" {
		t.Errorf("unexpected outputs: %v", cols)
	}
	if !cols[0].Type.Equal(types.String) || !cols[1].Type.Equal(types.Int) {
		t.Errorf("unexpected output types: %v", cols)
	}
}

func TestFrameEnumerator_Frames(t *testing.T) {
	f := &FrameEnumerator{}
	ctx := context.Background()
	ref := media.RefFromURI("s3://bucket/clip.mp4")

	// 2 seconds at 2 fps is 4 frames.
	out := drain(t, f, []types.Value{ref, 2.0}, map[string]interface{}{"fps": 2.0})
	if len(out) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(out))
	}
	if out[0]["frame_idx"] != int64(0) || out[0]["ts"] != 0.0 {
		t.Errorf("frame 0 = %v", out[0])
	}
	if out[3]["ts"] != 1.5 {
		t.Errorf("frame 3 ts = %v", out[3]["ts"])
	}
	got, ok := media.RefFromValue(out[0]["video"])
	if !ok || !got.Equal(ref) {
		t.Errorf("frames should carry the source ref, got %v", out[0]["video"])
	}

	// Unknown duration yields no frames rather than an error.
	if out := drain(t, f, []types.Value{ref, nil}, map[string]interface{}{"fps": 2.0}); len(out) != 0 {
		t.Errorf("nil duration: %v rows", out)
	}

	_, err := f.Open(ctx, []types.Value{ref, 2.0}, map[string]interface{}{"fps": -1.0})
	if errors.GetCode(err) != errors.CodeMalformedRow {
		t.Errorf("negative fps should fail, got %v", err)
	}
}

func TestFrameEnumerator_LargeExpansionStreams(t *testing.T) {
	f := &FrameEnumerator{}
	ctx := context.Background()
	ref := media.RefFromURI("s3://bucket/feed.mp4")

	// A multi-hour recording: opening the cursor is cheap and each frame is
	// produced on demand, so partial consumption never touches the rest.
	cur, err := f.Open(ctx, []types.Value{ref, 86400.0}, map[string]interface{}{"fps": 30.0})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer cur.Close()

	for i := 0; i < 3; i++ {
		row, ok, err := cur.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("frame %d: ok=%v, %v", i, ok, err)
		}
		if row["frame_idx"] != int64(i) {
			t.Errorf("frame_idx = %v, want %d", row["frame_idx"], i)
		}
	}

	// Cancellation stops the stream between frames.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := cur.Next(cancelled); err == nil {
		t.Error("expected cancellation error from Next")
	}
}
