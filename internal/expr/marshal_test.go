package expr

import (
	"testing"
	"time"

	"github.com/tesseradata/tessera/internal/types"
)

func TestMarshal_RoundTrip(t *testing.T) {
	fns := newTestRegistry(t)
	e := Binary(OpAnd,
		Binary(OpGt, Col("score"), Lit(0.5)),
		Binary(OpEq, CallFn("len", Col("name")), Lit(int64(4))))
	if err := Check(e, testSchema{}, fns); err != nil {
		t.Fatalf("failed to check: %v", err)
	}

	raw, err := Marshal(e)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	// The decoded tree needs a fresh Check to resolve columns and functions.
	if err := Check(back, testSchema{}, fns); err != nil {
		t.Fatalf("failed to recheck: %v", err)
	}

	if e.String() != back.String() {
		t.Errorf("round trip changed the expression: %q vs %q", e, back)
	}
	deps := Dependencies(back)
	if len(deps) != 2 {
		t.Errorf("expected 2 dependencies after round trip, got %v", deps)
	}
}

func TestMarshal_IntLiteralSurvives(t *testing.T) {
	raw, err := Marshal(Lit(int64(42)))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	lit, ok := back.(*Literal)
	if !ok {
		t.Fatalf("expected literal, got %T", back)
	}
	if v, ok := lit.Value.(int64); !ok || v != 42 {
		t.Errorf("int literal decoded as %T %v", lit.Value, lit.Value)
	}
}

func TestMarshal_TimestampLiteralSurvives(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	raw, err := Marshal(Lit(ts))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	lit := back.(*Literal)
	got, ok := lit.Value.(time.Time)
	if !ok || !got.Equal(ts) {
		t.Errorf("timestamp decoded as %T %v", lit.Value, lit.Value)
	}
}

func TestMarshal_Similarity(t *testing.T) {
	fns := newTestRegistry(t)
	e := Sim("embedding", []float32{0.1, 0.2, 0.3})
	if err := Check(e, testSchema{}, fns); err != nil {
		t.Fatalf("failed to check: %v", err)
	}

	raw, err := Marshal(e)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	sim, ok := back.(*Similarity)
	if !ok {
		t.Fatalf("expected similarity, got %T", back)
	}
	if len(sim.Query) != 3 || sim.Query[1] != 0.2 {
		t.Errorf("query vector mangled: %v", sim.Query)
	}
	if sim.Column.Name != "embedding" {
		t.Errorf("column mangled: %q", sim.Column.Name)
	}
}

func TestMarshal_TypeInferenceFromGoValues(t *testing.T) {
	if !Lit(3).Type().Equal(types.Int) {
		t.Error("int literal should type as int")
	}
	if !Lit("x").Type().Equal(types.String) {
		t.Error("string literal should type as string")
	}
	if Lit([]float32{1}).Type().Kind != types.KindArray {
		t.Error("vector literal should type as array")
	}
}
