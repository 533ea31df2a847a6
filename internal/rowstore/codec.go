package rowstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/media"
	"github.com/tesseradata/tessera/internal/types"
)

// sqliteColumnType maps a column type to the SQLite storage class of its
// value column. Scalars map to native classes so predicates push down to
// real comparisons; structured and media values are snappy-compressed JSON
// blobs.
func sqliteColumnType(t types.ColumnType) string {
	switch t.Kind {
	case types.KindBool, types.KindInt:
		return "INTEGER"
	case types.KindFloat:
		return "REAL"
	case types.KindString, types.KindTimestamp:
		return "TEXT"
	default:
		return "BLOB"
	}
}

// encodeValue converts a cell value into its SQL argument. The encoding is
// the inverse of decodeValue for every column type.
func encodeValue(t types.ColumnType, v types.Value) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case types.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeErr(t, v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case types.KindInt:
		n, ok := types.AsInt(v)
		if !ok {
			return nil, typeErr(t, v)
		}
		return n, nil
	case types.KindFloat:
		f, ok := types.AsFloat(v)
		if !ok {
			return nil, typeErr(t, v)
		}
		return f, nil
	case types.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, typeErr(t, v)
		}
		return s, nil
	case types.KindTimestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, typeErr(t, v)
		}
		return ts.UTC().Format(time.RFC3339Nano), nil
	case types.KindArray:
		vec, ok := types.AsVector(v)
		if !ok {
			return nil, typeErr(t, v)
		}
		if t.Dim > 0 && len(vec) != t.Dim {
			return nil, errors.NewValidationError(errors.CodeMalformedRow,
				fmt.Sprintf("array value has %d elements, column expects %d", len(vec), t.Dim))
		}
		return encodeBlob(vec)
	case types.KindJson:
		return encodeBlob(v)
	default:
		// Media kinds store the reference, not the bytes.
		ref, ok := media.RefFromValue(v)
		if !ok {
			return nil, typeErr(t, v)
		}
		return encodeBlob(ref)
	}
}

// decodeValue converts a scanned SQL value back into the cell value.
func decodeValue(t types.ColumnType, raw interface{}) (types.Value, error) {
	if raw == nil {
		return nil, nil
	}
	switch t.Kind {
	case types.KindBool:
		n, ok := raw.(int64)
		if !ok {
			return nil, scanErr(t, raw)
		}
		return n != 0, nil
	case types.KindInt:
		n, ok := raw.(int64)
		if !ok {
			return nil, scanErr(t, raw)
		}
		return n, nil
	case types.KindFloat:
		switch f := raw.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		}
		return nil, scanErr(t, raw)
	case types.KindString:
		return asString(raw)
	case types.KindTimestamp:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		ts, perr := time.Parse(time.RFC3339Nano, s)
		if perr != nil {
			return nil, fmt.Errorf("rowstore: failed to parse timestamp %q: %w", s, perr)
		}
		return ts, nil
	case types.KindArray:
		var vec []float32
		if err := decodeBlob(raw, &vec); err != nil {
			return nil, err
		}
		return vec, nil
	case types.KindJson:
		var v interface{}
		if err := decodeBlob(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		var ref media.Ref
		if err := decodeBlob(raw, &ref); err != nil {
			return nil, err
		}
		return ref, nil
	}
}

func encodeBlob(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to encode value: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeBlob(raw interface{}, out interface{}) error {
	blob, ok := raw.([]byte)
	if !ok {
		return errors.NewStorageError(errors.CodeMalformedRow,
			fmt.Sprintf("expected blob, got %T", raw), nil)
	}
	decoded, err := snappy.Decode(nil, blob)
	if err != nil {
		return fmt.Errorf("rowstore: failed to decompress value: %w", err)
	}
	if err := json.Unmarshal(decoded, out); err != nil {
		return fmt.Errorf("rowstore: failed to decode value: %w", err)
	}
	return nil
}

func asString(raw interface{}) (string, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", fmt.Errorf("rowstore: expected text, got %T", raw)
}

func typeErr(t types.ColumnType, v types.Value) error {
	return errors.NewValidationError(errors.CodeMalformedRow,
		fmt.Sprintf("value of type %T does not fit column type %s", v, t))
}

func scanErr(t types.ColumnType, raw interface{}) error {
	return errors.NewStorageError(errors.CodeMalformedRow,
		fmt.Sprintf("stored value of type %T does not fit column type %s", raw, t), nil)
}
