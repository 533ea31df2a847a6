package types

import (
	"testing"
	"time"
)

func TestValidateValue(t *testing.T) {
	cases := []struct {
		typ   ColumnType
		value Value
		ok    bool
	}{
		{Int, int64(3), true},
		{Int, "3", false},
		{Float, 1.5, true},
		{Float, int64(2), true}, // ints widen to float
		{String, "x", true},
		{Bool, true, true},
		{Timestamp, time.Now(), true},
		{Timestamp, "2024-01-01", false},
		{Array(3), []float32{1, 2, 3}, true},
		{Array(3), []float32{1, 2}, false},
		{Array(0), []float32{1, 2}, true},
		{Json, map[string]interface{}{"a": 1}, true},
	}
	for _, tc := range cases {
		err := ValidateValue(tc.typ, tc.value)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateValue(%s, %v): expected ok=%v, got %v", tc.typ, tc.value, tc.ok, err)
		}
	}
}

func TestColumnType_Predicates(t *testing.T) {
	if !Image.IsMedia() || Int.IsMedia() {
		t.Error("IsMedia misclassified")
	}
	if !Int.IsScalar() || Json.IsScalar() {
		t.Error("IsScalar misclassified")
	}
	if !Float.IsNumeric() || String.IsNumeric() {
		t.Error("IsNumeric misclassified")
	}
	if !Array(3).Equal(Array(3)) || Array(3).Equal(Array(4)) {
		t.Error("Equal ignores dimension")
	}
}

func TestAsVector(t *testing.T) {
	if v, ok := AsVector([]float32{1, 2}); !ok || len(v) != 2 {
		t.Error("AsVector failed on []float32")
	}
	if v, ok := AsVector([]float64{1, 2}); !ok || len(v) != 2 {
		t.Error("AsVector failed on []float64")
	}
	if v, ok := AsVector([]interface{}{1.0, 2.0}); !ok || len(v) != 2 {
		t.Error("AsVector failed on decoded JSON array")
	}
	if _, ok := AsVector("nope"); ok {
		t.Error("AsVector accepted a string")
	}
}

func TestCellStates(t *testing.T) {
	row := NewRow(1, 1)
	if got := row.Cell(5).State; got != CellPending {
		t.Errorf("missing cell must read pending, got %s", got)
	}

	row.Cells[5] = PresentCell(int64(9))
	if c := row.Cell(5); c.State != CellPresent || c.Value != int64(9) {
		t.Error("present cell mangled")
	}

	ce := &CellError{RowID: 1, Column: "x", Kind: "UDF_FAILED", Message: "boom"}
	row.Cells[5] = ErroredCell(ce)
	if c := row.Cell(5); c.State != CellErrored || c.Error != ce || c.Value != nil {
		t.Error("errored cell mangled")
	}
}
