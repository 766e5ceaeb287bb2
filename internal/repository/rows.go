package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"festtix/internal/backend"
	apperrors "festtix/internal/errors"
)

// rowReader decodes one backend row, remembering the first problem so the
// caller can check once at the end.
type rowReader struct {
	table string
	row   backend.Row
	err   error
}

func readRow(table string, row backend.Row) *rowReader {
	return &rowReader{table: table, row: row}
}

func (r *rowReader) fail(col, format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s.%s %s", apperrors.ErrInvalidRow, r.table, col, fmt.Sprintf(format, args...))
	}
}

func (r *rowReader) String(col string, required bool) string {
	v, ok := r.row[col]
	if !ok || v == nil {
		if required {
			r.fail(col, "is missing")
		}
		return ""
	}
	switch x := v.(type) {
	case string:
		if required && x == "" {
			r.fail(col, "is empty")
		}
		return x
	case []byte:
		return string(x)
	default:
		r.fail(col, "has type %T, want string", v)
		return ""
	}
}

func (r *rowReader) Int(col string) int {
	v, ok := r.row[col]
	if !ok || v == nil {
		r.fail(col, "is missing")
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case float64:
		if x != float64(int64(x)) {
			r.fail(col, "is not an integer")
		}
		return int(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			r.fail(col, "is not an integer")
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			r.fail(col, "is not an integer")
		}
		return n
	default:
		r.fail(col, "has type %T, want integer", v)
		return 0
	}
}

func (r *rowReader) Time(col string, required bool) time.Time {
	v, ok := r.row[col]
	if !ok || v == nil {
		if required {
			r.fail(col, "is missing")
		}
		return time.Time{}
	}
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			r.fail(col, "is not a timestamp")
		}
		return t
	default:
		r.fail(col, "has type %T, want timestamp", v)
		return time.Time{}
	}
}

func (r *rowReader) JSON(col string) map[string]any {
	v, ok := r.row[col]
	if !ok || v == nil {
		return nil
	}
	var raw []byte
	switch x := v.(type) {
	case map[string]any:
		return x
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		r.fail(col, "has type %T, want json object", v)
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		r.fail(col, "is not a json object")
	}
	return out
}

func (r *rowReader) Bool(col string) bool {
	v, ok := r.row[col]
	if !ok || v == nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			r.fail(col, "is not a boolean")
		}
		return b
	default:
		r.fail(col, "has type %T, want bool", v)
		return false
	}
}

func (r *rowReader) Err() error { return r.err }
