package endpoint

import (
	"fmt"
	"strconv"
	"time"
)

// RowSet holds the buffered result of a query. Text values are normalized
// to string whatever the driver returned.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Scalar returns the first column of the first row
func (r *RowSet) Scalar() (any, bool) {
	if r.Len() == 0 || len(r.Rows[0]) == 0 {
		return nil, false
	}
	return r.Rows[0][0], true
}

// Int64 returns the first column of the first row as an integer
func (r *RowSet) Int64() (int64, error) {
	v, ok := r.Scalar()
	if !ok {
		return 0, fmt.Errorf("empty result")
	}
	return AsInt64(v)
}

// Bool returns the first column of the first row as a boolean
func (r *RowSet) Bool() (bool, error) {
	v, ok := r.Scalar()
	if !ok {
		return false, fmt.Errorf("empty result")
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("unexpected %T for boolean", v)
}

// Column returns the index of the named column or -1
func (r *RowSet) Column(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AsInt64 converts the integer representations drivers return
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("NULL is not an integer")
	}
	return 0, fmt.Errorf("unexpected %T for integer", v)
}

// Text renders a scanned value for comparison and display
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
