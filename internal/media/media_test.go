package media

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestRef_HashEquality(t *testing.T) {
	a, err := NewRef("videos/a.mp4", strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("failed to build ref: %v", err)
	}
	b, err := NewRef("videos/b.mp4", strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("failed to build ref: %v", err)
	}
	if !a.Equal(b) {
		t.Errorf("refs over identical content should be equal: %s vs %s", a, b)
	}

	c, _ := NewRef("videos/c.mp4", strings.NewReader("other bytes"))
	if a.Equal(c) {
		t.Errorf("refs over different content should not be equal")
	}
	if !a.Valid() {
		t.Errorf("ref with uri and hash should be valid")
	}
}

func TestRefFromValue(t *testing.T) {
	orig := RefFromURI("s3://bucket/key")

	// JSON decoding produces a map; the ref must survive the round trip.
	m := map[string]interface{}{"uri": orig.URI, "hash": orig.Hash}
	got, ok := RefFromValue(m)
	if !ok || !got.Equal(orig) {
		t.Errorf("ref did not survive map round trip: %v", got)
	}

	// A bare URI string is promoted to a ref.
	got, ok = RefFromValue("s3://bucket/key")
	if !ok || !got.Equal(orig) {
		t.Errorf("string uri should produce an equal ref: %v", got)
	}

	if _, ok := RefFromValue(""); ok {
		t.Errorf("empty string should not produce a ref")
	}
	if _, ok := RefFromValue(42); ok {
		t.Errorf("int should not produce a ref")
	}
}

func TestLocalStore_PutGetRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	content := []byte("frame data")
	ref, err := store.Put(ctx, "frames/0001.jpg", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if !ref.Valid() {
		t.Fatalf("put returned invalid ref: %v", ref)
	}

	rc, err := store.Get(ctx, "frames/0001.jpg")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q", got)
	}

	ok, err := store.Exists(ctx, "frames/0001.jpg")
	if err != nil || !ok {
		t.Errorf("stored key should exist: %v, %v", ok, err)
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	_, err = store.Get(context.Background(), "missing.bin")
	if err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStore_DeleteAndList(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"a/1.bin", "a/2.bin", "b/3.bin"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key)); err != nil {
			t.Fatalf("put %s failed: %v", key, err)
		}
	}

	keys, err := store.List(ctx, "a")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys under a/, got %v", keys)
	}

	if err := store.Delete(ctx, "a/1.bin"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ok, _ := store.Exists(ctx, "a/1.bin"); ok {
		t.Errorf("deleted key should not exist")
	}
	// Deleting again is a no-op.
	if err := store.Delete(ctx, "a/1.bin"); err != nil {
		t.Errorf("deleting a missing key should be idempotent: %v", err)
	}
}
