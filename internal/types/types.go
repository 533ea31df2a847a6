// Package types provides the column type system and cell model shared by
// every Tessera component.
package types

import (
	"fmt"
	"time"
)

// Kind enumerates the supported column value kinds.
type Kind string

const (
	KindBool      Kind = "bool"
	KindInt       Kind = "int"
	KindFloat     Kind = "float"
	KindString    Kind = "string"
	KindTimestamp Kind = "timestamp"
	KindJson      Kind = "json"
	KindArray     Kind = "array"
	KindImage     Kind = "image"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindDocument  Kind = "document"
)

// ColumnType describes the declared type of a column. Array types may carry
// a fixed dimension (required for embedding columns).
type ColumnType struct {
	Kind Kind `json:"kind"`

	// Dim is the fixed vector dimension for array columns; 0 means unsized.
	Dim int `json:"dim,omitempty"`
}

// Common type constructors.
var (
	Bool      = ColumnType{Kind: KindBool}
	Int       = ColumnType{Kind: KindInt}
	Float     = ColumnType{Kind: KindFloat}
	String    = ColumnType{Kind: KindString}
	Timestamp = ColumnType{Kind: KindTimestamp}
	Json      = ColumnType{Kind: KindJson}
	Image     = ColumnType{Kind: KindImage}
	Video     = ColumnType{Kind: KindVideo}
	Audio     = ColumnType{Kind: KindAudio}
	Document  = ColumnType{Kind: KindDocument}
)

// Array returns an array type with the given dimension (0 for unsized).
func Array(dim int) ColumnType {
	return ColumnType{Kind: KindArray, Dim: dim}
}

// IsMedia reports whether the type holds a media reference.
func (t ColumnType) IsMedia() bool {
	switch t.Kind {
	case KindImage, KindVideo, KindAudio, KindDocument:
		return true
	}
	return false
}

// IsScalar reports whether values of this type are stored natively in the
// row store and are therefore eligible for predicate pushdown.
func (t ColumnType) IsScalar() bool {
	switch t.Kind {
	case KindBool, KindInt, KindFloat, KindString, KindTimestamp:
		return true
	}
	return false
}

// IsNumeric reports whether the type supports arithmetic.
func (t ColumnType) IsNumeric() bool {
	return t.Kind == KindInt || t.Kind == KindFloat
}

// Equal reports structural equality. Unsized arrays match any dimension.
func (t ColumnType) Equal(o ColumnType) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind == KindArray && t.Dim != 0 && o.Dim != 0 {
		return t.Dim == o.Dim
	}
	return true
}

// String returns the display name of the type.
func (t ColumnType) String() string {
	if t.Kind == KindArray && t.Dim > 0 {
		return fmt.Sprintf("array[%d]", t.Dim)
	}
	return string(t.Kind)
}

// Value is a dynamically typed cell value. The concrete Go types used per
// kind are: bool, int64, float64, string, time.Time, map[string]interface{}
// (json), []float32 (array), and media.Ref for the media kinds.
type Value interface{}

// ValidateValue checks that v is an acceptable value for type t.
// Nil is acceptable for any type (nullability is enforced by the catalog).
func ValidateValue(t ColumnType, v Value) error {
	if v == nil {
		return nil
	}
	switch t.Kind {
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("types: expected bool, got %T", v)
		}
	case KindInt:
		if _, ok := AsInt(v); !ok {
			return fmt.Errorf("types: expected int, got %T", v)
		}
	case KindFloat:
		if _, ok := AsFloat(v); !ok {
			return fmt.Errorf("types: expected float, got %T", v)
		}
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("types: expected string, got %T", v)
		}
	case KindTimestamp:
		if _, ok := v.(time.Time); !ok {
			return fmt.Errorf("types: expected timestamp, got %T", v)
		}
	case KindArray:
		vec, ok := AsVector(v)
		if !ok {
			return fmt.Errorf("types: expected float32 vector, got %T", v)
		}
		if t.Dim > 0 && len(vec) != t.Dim {
			return fmt.Errorf("types: expected vector of dim %d, got %d", t.Dim, len(vec))
		}
	}
	return nil
}

// AsInt coerces a value to int64. Plain ints arrive from callers and JSON
// decoding can produce float64 with integral values.
func AsInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}

// AsFloat coerces a value to float64.
func AsFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

// AsVector coerces a value to a float32 vector.
func AsVector(v Value) ([]float32, bool) {
	switch x := v.(type) {
	case []float32:
		return x, true
	case []float64:
		out := make([]float32, len(x))
		for i, f := range x {
			out[i] = float32(f)
		}
		return out, true
	case []interface{}:
		out := make([]float32, len(x))
		for i, e := range x {
			f, ok := AsFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	}
	return nil, false
}
